// Package metadata loads entity schemas and serves the field descriptors,
// validation rules and OpenAPI projections derived from them.
package metadata

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/entitystore/model"
)

// Schema is the content of one schema file: a single entity, or a list under
// "entities".
type Schema struct {
	model.EntityMetadata `yaml:",inline"`
	Entities             []model.EntityMetadata `yaml:"entities,omitempty"`

	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// All returns the entities declared by the schema.
func (s Schema) All() []model.EntityMetadata {
	var out []model.EntityMetadata
	if s.Name != "" {
		out = append(out, s.EntityMetadata)
	}
	return append(out, s.Entities...)
}

// Loader scans directories for YAML schema files.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files.
func (l *Loader) LoadAll(directories []string) ([]Schema, error) {
	var schemas []Schema

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			s, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			schemas = append(schemas, s)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return schemas, nil
}

// LoadFile loads and parses a single schema file.
func (l *Loader) LoadFile(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("reading %s: %w", path, err)
	}
	s, err := l.Parse(data)
	if err != nil {
		return Schema{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	s.SourceFile = path
	return s, nil
}

// Parse decodes schema YAML and checks that every entity and field is named.
func (l *Loader) Parse(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, err
	}

	all := s.All()
	if len(all) == 0 {
		return Schema{}, fmt.Errorf("no entity declared")
	}
	for i, e := range all {
		if e.Name == "" {
			return Schema{}, fmt.Errorf("entities[%d]: name is required", i)
		}
		for j, f := range e.Fields {
			if f.Name == "" {
				return Schema{}, fmt.Errorf("%s.fields[%d]: name is required", e.Name, j)
			}
		}
	}

	s.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	return s, nil
}
