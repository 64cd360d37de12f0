package transport

import (
	"net/http"
	"slices"
	"testing"

	"github.com/pitabwire/entitystore/model"
)

func TestListTypes(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/meta", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[struct {
		Entities []typeSummary `json:"entities"`
	}](t, w)

	var names []string
	for _, e := range body.Entities {
		names = append(names, e.Name)
	}
	if !slices.Contains(names, "tasks") || !slices.Contains(names, "products") {
		t.Errorf("names = %v", names)
	}
}

func TestGetMetadata(t *testing.T) {
	f := newFixture(t)
	meta := decode[model.EntityMetadata](t, f.do(t, http.MethodGet, "/api/meta/tasks", nil))
	if meta.Name != "tasks" || meta.DisplayName != "Tasks" || len(meta.Fields) == 0 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestGetView(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/meta/tasks/form", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[struct {
		View   string                  `json:"view"`
		Fields []model.FieldDescriptor `json:"fields"`
	}](t, w)
	if body.View != "form" {
		t.Errorf("view = %q", body.View)
	}
	found := false
	for _, fd := range body.Fields {
		if fd.Name == "title" {
			found = true
		}
	}
	if !found {
		t.Errorf("form fields missing title: %+v", body.Fields)
	}
}

func TestGetView_unknownView(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/api/meta/tasks/chart", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetSchema(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/meta/tasks/schema", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[struct {
		Type       any                       `json:"type"`
		Required   []string                  `json:"required"`
		Properties map[string]map[string]any `json:"properties"`
	}](t, w)
	if !slices.Contains(body.Required, "title") {
		t.Errorf("required = %v", body.Required)
	}
	if body.Properties["title"]["minLength"] != float64(3) {
		t.Errorf("title schema = %v", body.Properties["title"])
	}
	if body.Properties["id"]["readOnly"] != true {
		t.Errorf("id schema = %v", body.Properties["id"])
	}
}

func TestMeta_unknownEntity(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/meta/widgets", "/api/meta/widgets/schema", "/api/meta/widgets/form"} {
		if w := f.do(t, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, w.Code)
		}
	}
}

func TestGetOpenAPI(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/openapi.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	doc := decode[struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}](t, w)
	if doc.OpenAPI != "3.0.3" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	for _, p := range []string{"/api/entities/tasks", "/api/entities/products/{id}"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("missing path %q", p)
		}
	}
}
