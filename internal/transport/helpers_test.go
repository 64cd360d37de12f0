package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pitabwire/entitystore/internal/config"
	"github.com/pitabwire/entitystore/internal/live"
	"github.com/pitabwire/entitystore/internal/memory"
	"github.com/pitabwire/entitystore/internal/metadata"
	"github.com/pitabwire/entitystore/internal/observability"
	"github.com/pitabwire/entitystore/internal/store"
	"github.com/pitabwire/entitystore/model"
)

type fixture struct {
	handler http.Handler
	engine  *memory.Engine
	deps    Dependencies
}

func newFixture(t *testing.T, mutate ...func(*Dependencies)) *fixture {
	t.Helper()
	schemas, err := metadata.Builtin()
	if err != nil {
		t.Fatalf("Builtin() error = %v", err)
	}
	reg := metadata.NewRegistry(schemas...)
	engine := memory.NewEngine(memory.WithMetadata(reg), memory.WithValidator(metadata.NewValidator(reg)))

	mgr := live.NewManager(live.WithDebounce(10 * time.Millisecond))
	t.Cleanup(mgr.Close)

	entities := store.NewRegistry(nil, store.RepositorySourceFunc(func(ctx context.Context, entityType string) (model.Repository, error) {
		repo, err := engine.Repository(ctx, entityType)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}), store.WithLiveManager(mgr), store.WithAutoFetch(false))
	t.Cleanup(entities.Close)

	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"http://app.local"}

	deps := Dependencies{
		Config:    cfg,
		Metadata:  reg,
		Entities:  entities,
		Live:      mgr,
		Readiness: observability.ReadinessChecks{MetadataLoaded: reg.Loaded},
	}
	for _, m := range mutate {
		m(&deps)
	}
	return &fixture{handler: NewRouter(deps), engine: engine, deps: deps}
}

func (f *fixture) seedTasks(t *testing.T, n int) {
	t.Helper()
	repo, err := f.engine.Repository(context.Background(), "tasks")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		if _, err := repo.Insert(context.Background(), model.Entity{
			"title":     fmt.Sprintf("task %02d", i),
			"completed": i%2 == 0,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

func listIDs(res model.ListResult) []string {
	out := make([]string, len(res.Items))
	for i, it := range res.Items {
		out[i] = it.ID()
	}
	return out
}
