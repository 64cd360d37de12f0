package metadata

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/entitystore/model"
)

type snapshot struct {
	entities map[string]model.EntityMetadata
	checksum string
}

// Registry is a read-optimized, thread-safe store of entity metadata. Reads
// are lock-free; Replace swaps the whole snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given schemas. Later schemas win
// when two declare the same entity.
func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{}
	r.Replace(schemas)
	return r
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(schemas []Schema) {
	s := &snapshot{entities: make(map[string]model.EntityMetadata)}

	var checksumParts []string
	for _, schema := range schemas {
		checksumParts = append(checksumParts, schema.Checksum)
		for _, e := range schema.All() {
			s.entities[e.Name] = e
		}
	}

	sort.Strings(checksumParts)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksumParts, ":"))))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Entity returns the metadata of an entity type.
func (r *Registry) Entity(entityType string) (model.EntityMetadata, bool) {
	e, ok := r.current().entities[entityType]
	return e, ok
}

// FieldDescriptors returns the fields of entityType exposed in view, ordered
// by their declared priority. Fields with equal priority keep declaration
// order.
func (r *Registry) FieldDescriptors(entityType string, view model.View) []model.FieldDescriptor {
	e, ok := r.Entity(entityType)
	if !ok {
		return nil
	}

	var out []model.FieldDescriptor
	for _, f := range e.Fields {
		if f.HasView(view) && !f.Hidden {
			out = append(out, f)
		}
	}
	slices.SortStableFunc(out, func(a, b model.FieldDescriptor) int {
		return a.ViewOrder(view) - b.ViewOrder(view)
	})
	return out
}

// Types returns the registered entity types, sorted.
func (r *Registry) Types() []string {
	s := r.current()
	out := make([]string, 0, len(s.entities))
	for name := range s.entities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Loaded reports whether at least one entity type is registered.
func (r *Registry) Loaded() bool {
	return len(r.current().entities) > 0
}

// Checksum returns the combined checksum of all loaded schemas.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
