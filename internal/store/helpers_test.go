package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/entitystore/internal/live"
	"github.com/pitabwire/entitystore/internal/memory"
	"github.com/pitabwire/entitystore/internal/metadata"
	"github.com/pitabwire/entitystore/model"
)

const (
	testWait = 10 * time.Millisecond
	waitFor  = time.Second
	tick     = 5 * time.Millisecond
)

// spyRepository counts calls and can hold or fail Find.
type spyRepository struct {
	model.Repository

	mu      sync.Mutex
	calls   map[string]int
	findErr error
	gate    chan struct{}
}

func newSpy(repo model.Repository) *spyRepository {
	return &spyRepository{Repository: repo, calls: make(map[string]int)}
}

func (s *spyRepository) record(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *spyRepository) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *spyRepository) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// hold makes the next Find block until the returned release is called.
func (s *spyRepository) hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return func() { close(gate) }
}

func (s *spyRepository) Find(ctx context.Context, opts model.FindOptions) ([]model.Entity, error) {
	s.record("find")
	s.mu.Lock()
	gate, err := s.gate, s.findErr
	s.gate = nil
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return s.Repository.Find(ctx, opts)
}

func (s *spyRepository) Count(ctx context.Context, f *model.Filter) (int, error) {
	s.record("count")
	return s.Repository.Count(ctx, f)
}

func (s *spyRepository) Insert(ctx context.Context, data model.Entity) (model.Entity, error) {
	s.record("insert")
	return s.Repository.Insert(ctx, data)
}

func (s *spyRepository) Update(ctx context.Context, id string, patch model.Entity) (model.Entity, error) {
	s.record("update")
	return s.Repository.Update(ctx, id, patch)
}

func (s *spyRepository) Delete(ctx context.Context, id string) error {
	s.record("delete")
	return s.Repository.Delete(ctx, id)
}

func (s *spyRepository) Subscribe(ctx context.Context, opts model.FindOptions, h model.LiveHandler) (func(), error) {
	s.record("subscribe")
	return s.Repository.Subscribe(ctx, opts, h)
}

func builtinRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	schemas, err := metadata.Builtin()
	require.NoError(t, err)
	return metadata.NewRegistry(schemas...)
}

func newEngine(t *testing.T) *memory.Engine {
	t.Helper()
	reg := builtinRegistry(t)
	return memory.NewEngine(memory.WithMetadata(reg), memory.WithValidator(metadata.NewValidator(reg)))
}

func newTaskRepo(t *testing.T) *spyRepository {
	t.Helper()
	repo, err := newEngine(t).Repository(context.Background(), "tasks")
	require.NoError(t, err)
	return newSpy(repo)
}

func testOptions(t *testing.T, extra ...Option) []Option {
	t.Helper()
	mgr := live.NewManager(live.WithDebounce(testWait))
	t.Cleanup(mgr.Close)
	return append([]Option{WithLiveManager(mgr), WithRefreshDebounce(testWait)}, extra...)
}

func seedTasks(t *testing.T, repo model.Repository, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := repo.Insert(context.Background(), model.Entity{"title": fmt.Sprintf("task %02d", i), "completed": i%2 == 0})
		require.NoError(t, err)
	}
}

func itemIDs(items []model.Entity) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID()
	}
	return out
}
