package language

import (
	"fmt"
	"sort"
	"strings"
)

// Language describes a source language the compiler can translate to wasm.
type Language struct {
	name    string
	ext     string
	aliases []string
}

// Name returns the canonical language identifier (e.g., "javascript").
func (l *Language) Name() string { return l.name }

// FileExtension returns the source file extension (e.g., ".js").
func (l *Language) FileExtension() string { return l.ext }

// Validate checks that the code is acceptable to hand to the compiler.
// An empty snippet is valid input here; the compiler may still reject it.
func (l *Language) Validate(code string) error {
	if len(code) > 1<<20 {
		return fmt.Errorf("code too large: %d bytes (max 1MB)", len(code))
	}
	return nil
}

// Registry maps language names and aliases to Language definitions.
type Registry struct {
	byName map[string]*Language
}

// NewRegistry creates a registry with all supported languages.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]*Language)}
	r.register(&Language{name: "javascript", ext: ".js", aliases: []string{"js"}})
	r.register(&Language{name: "typescript", ext: ".ts", aliases: []string{"ts"}})
	r.register(&Language{name: "python", ext: ".py", aliases: []string{"py"}})
	r.register(&Language{name: "rust", ext: ".rs", aliases: []string{"rs"}})
	r.register(&Language{name: "go", ext: ".go", aliases: []string{"golang"}})
	return r
}

func (r *Registry) register(l *Language) {
	r.byName[l.name] = l
	for _, alias := range l.aliases {
		r.byName[alias] = l
	}
}

// Get returns the language for the given name or alias.
func (r *Registry) Get(name string) (*Language, error) {
	l, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q (supported: %s)",
			name, strings.Join(r.Names(), ", "))
	}
	return l, nil
}

// Names returns the canonical names of all supported languages, sorted.
func (r *Registry) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, l := range r.byName {
		if !seen[l.name] {
			seen[l.name] = true
			names = append(names, l.name)
		}
	}
	sort.Strings(names)
	return names
}
