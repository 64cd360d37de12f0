package transport

import (
	"net/http"
	"testing"

	"github.com/pitabwire/entitystore/internal/search"
	"github.com/pitabwire/entitystore/model"
)

func TestSearch_acrossEntities(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 3)

	w := f.do(t, http.MethodGet, "/api/search?q=task%2002", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[search.Response](t, w)
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("results = %+v", resp)
	}
	if r := resp.Results[0]; r.Entity != "tasks" || r.ID != "2" || r.Title != "task 02" {
		t.Errorf("result = %+v", r)
	}
	if resp.Entities["tasks"] != search.StatusOK || resp.Entities["products"] != search.StatusOK {
		t.Errorf("entities = %v", resp.Entities)
	}
}

func TestSearch_shortQuery(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/search?q=t", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decode[errorBody](t, w); body.Error.Code != model.ErrBadRequest {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestSearch_badPage(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/search?q=task&page=x", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
