package metadata

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed schemas/*.yaml
var builtinFS embed.FS

// Builtin returns the schemas shipped with the binary: tasks and products.
func Builtin() ([]Schema, error) {
	names, err := fs.Glob(builtinFS, "schemas/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	l := NewLoader()
	out := make([]Schema, 0, len(names))
	for _, name := range names {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading builtin %s: %w", name, err)
		}
		s, err := l.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing builtin %s: %w", name, err)
		}
		s.SourceFile = name
		out = append(out, s)
	}
	return out, nil
}
