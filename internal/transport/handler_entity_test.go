package transport

import (
	"net/http"
	"reflect"
	"testing"

	"github.com/pitabwire/entitystore/model"
)

func TestList_secondPage(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 12)

	w := f.do(t, http.MethodGet, "/api/entities/tasks?page=2&page_size=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[model.ListResult](t, w)
	if res.Total != 12 || res.Page != 2 || res.PageSize != 5 {
		t.Errorf("total/page/size = %d/%d/%d", res.Total, res.Page, res.PageSize)
	}
	if got, want := listIDs(res), []string{"6", "7", "8", "9", "10"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestList_defaultsFromMetadata(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 12)

	res := decode[model.ListResult](t, f.do(t, http.MethodGet, "/api/entities/tasks", nil))
	if res.Page != 1 || res.PageSize != 10 || len(res.Items) != 10 {
		t.Errorf("page=%d size=%d items=%d", res.Page, res.PageSize, len(res.Items))
	}
}

func TestList_fieldFilter(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 12)

	res := decode[model.ListResult](t, f.do(t, http.MethodGet, "/api/entities/tasks?filter.completed=true", nil))
	if res.Total != 6 {
		t.Errorf("total = %d, want 6", res.Total)
	}
	for _, it := range res.Items {
		if it["completed"] != true {
			t.Errorf("item %s is not completed", it.ID())
		}
	}
}

func TestList_searchText(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 12)

	res := decode[model.ListResult](t, f.do(t, http.MethodGet, "/api/entities/tasks?q=TASK+1", nil))
	if got, want := listIDs(res), []string{"10", "11", "12"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestList_sortDescending(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 12)

	res := decode[model.ListResult](t, f.do(t, http.MethodGet, "/api/entities/tasks?sort=-id&page_size=3", nil))
	if got, want := listIDs(res), []string{"12", "11", "10"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestList_badPaging(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/api/entities/tasks?page_size=1000",
		"/api/entities/tasks?page_size=0",
		"/api/entities/tasks?page=abc",
	} {
		w := f.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestList_farPageIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 3)

	w := f.do(t, http.MethodGet, "/api/entities/tasks?page=1152921504606846976", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[model.ListResult](t, w)
	if len(res.Items) != 0 || res.Total != 3 {
		t.Errorf("items = %d, total = %d, want 0 and 3", len(res.Items), res.Total)
	}
}

func TestList_unknownEntity(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/entities/widgets", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body := decode[errorBody](t, w); body.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestCreate_andGet(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/entities/tasks", model.Entity{"title": "Buy milk", "completed": false})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[model.Entity](t, w)
	if created.ID() != "1" || created["title"] != "Buy milk" {
		t.Errorf("created = %v", created)
	}

	w = f.do(t, http.MethodGet, "/api/entities/tasks/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := decode[model.Entity](t, w); got["title"] != "Buy milk" {
		t.Errorf("got = %v", got)
	}
}

func TestCreate_validationError(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/entities/tasks", model.Entity{"title": "ab"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	body := decode[errorBody](t, w)
	if body.Error.Code != model.ErrValidationError || len(body.Error.Details) != 1 {
		t.Fatalf("error = %+v", body.Error)
	}
	if d := body.Error.Details[0]; d.Field != "title" || d.Message != "Too short" {
		t.Errorf("detail = %+v", d)
	}
}

func TestCreate_malformedBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/entities/tasks", "not an object")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGet_missing(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/entities/tasks/42", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUpdate_mergesPatch(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 1)

	w := f.do(t, http.MethodPatch, "/api/entities/tasks/1", model.Entity{"completed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	updated := decode[model.Entity](t, w)
	if updated["completed"] != true || updated["title"] != "task 01" {
		t.Errorf("updated = %v", updated)
	}

	w = f.do(t, http.MethodPatch, "/api/entities/tasks/9", model.Entity{"completed": true})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing update status = %d, want 404", w.Code)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 2)

	if w := f.do(t, http.MethodDelete, "/api/entities/tasks/1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/entities/tasks/1", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/entities/tasks/1", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestUpdateMatching_completesOpenTasks(t *testing.T) {
	f := newFixture(t)
	f.seedTasks(t, 12)

	w := f.do(t, http.MethodPatch, "/api/entities/tasks", map[string]any{
		"filter": model.Eq("completed", false),
		"patch":  model.Entity{"completed": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]int](t, w); got["updated"] != 6 {
		t.Errorf("updated = %d, want 6", got["updated"])
	}

	res := decode[model.ListResult](t, f.do(t, http.MethodGet, "/api/entities/tasks?filter.completed=true", nil))
	if res.Total != 12 {
		t.Errorf("completed total = %d, want 12", res.Total)
	}
}

func TestUpdateMatching_emptyPatch(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPatch, "/api/entities/tasks", map[string]any{"patch": map[string]any{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
