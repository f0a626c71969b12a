package module

import (
	"fmt"
	"sort"
)

// Dependency is one declared third-party dependency. Version is informational
// only; resolution never compares it.
type Dependency struct {
	Name    string
	Version string
}

// Descriptor represents a discovered and validated module.
type Descriptor struct {
	Name        string // Directory name, stable identifier
	DisplayName string // Manifest module.name
	Version     string
	Author      string
	Editor      string // Manifest module.modify, empty when not declared

	Autostart bool // Launch once at startup
	Interval  bool // Launch on every scheduler tick

	Dependencies []Dependency // Declaration order

	Dir        string   // Absolute path to module directory
	Entrypoint string   // Absolute path to <name><ext>
	Runtime    []string // Interpreter argv prefix; empty means execute directly
}

// Command returns the argv used to start the module.
func (d *Descriptor) Command() []string {
	argv := make([]string, 0, len(d.Runtime)+1)
	argv = append(argv, d.Runtime...)
	return append(argv, d.Entrypoint)
}

// Credit renders the authorship line shown when a module is loaded.
func (d *Descriptor) Credit() string {
	credit := fmt.Sprintf("Author: %s", d.Author)
	if d.Editor != "" {
		credit += fmt.Sprintf(" | Editor: %s", d.Editor)
	}
	return credit
}

// DependencyNames returns dependency names in declaration order.
func (d *Descriptor) DependencyNames() []string {
	out := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		out = append(out, dep.Name)
	}
	return out
}

// Registry holds discovered modules indexed by name.
type Registry struct {
	modules map[string]*Descriptor
}

// NewRegistry creates a registry from discovered descriptors. Later entries
// with a duplicate name are ignored.
func NewRegistry(descs []*Descriptor) *Registry {
	r := &Registry{modules: make(map[string]*Descriptor, len(descs))}
	for _, d := range descs {
		if _, exists := r.modules[d.Name]; exists {
			continue
		}
		r.modules[d.Name] = d
	}
	return r
}

// Get retrieves a module by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.modules[name]
	return d, ok
}

// Names returns module names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every module sorted by name.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.modules))
	for _, name := range r.Names() {
		out = append(out, r.modules[name])
	}
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return len(r.modules)
}
