// Package source builds the job units that fetch external records and
// persist them. Each source type registers a factory; the app layer
// resolves configured sources against the registry at startup.
package source

import (
	"fmt"
	"sort"

	"logingest/internal/config"
	"logingest/internal/job"
	"logingest/internal/storage"
	"logingest/pkg/logx"
)

// Factory builds a runnable unit from a validated source spec.
type Factory func(spec config.SourceSpec, store storage.Store, log logx.Logger) (job.Unit, error)

// Registry maps source type names to factories. It is populated once at
// startup and read-only afterwards.
type Registry map[string]Factory

// Defaults returns the built-in source types.
func Defaults() Registry {
	return Registry{
		"json_placeholder": NewJSONPlaceholder,
	}
}

// Build resolves the spec's type and constructs its unit.
func (r Registry) Build(spec config.SourceSpec, store storage.Store, log logx.Logger) (job.Unit, error) {
	f, ok := r[spec.Type]
	if !ok {
		return nil, fmt.Errorf("source %q: unknown type %q (known: %v)", spec.Name, spec.Type, r.Types())
	}
	return f(spec, store, log)
}

func (r Registry) Types() []string {
	out := make([]string, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
