package tool

import (
	"fmt"
	"sync"

	"toolcal/internal/llm"
)

// DuplicateToolError is returned when a name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %s already registered", e.Name)
}

// UnknownToolError is returned when a lookup misses.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %s not found", e.Name)
}

// Entry pairs a tool's spec with its implementation.
type Entry struct {
	Spec Spec
	Func Func
}

// Registry maps tool names to entries. It is filled at session start and only
// read afterwards; there is no removal.
type Registry struct {
	tools map[string]*Entry
	order []string
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Entry),
	}
}

func (r *Registry) Register(spec Spec, fn Func) error {
	if fn == nil {
		return fmt.Errorf("tool %s: nil implementation", spec.Name)
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return &DuplicateToolError{Name: spec.Name}
	}

	r.tools[spec.Name] = &Entry{Spec: spec, Func: fn}
	r.order = append(r.order, spec.Name)
	return nil
}

func (r *Registry) Lookup(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.tools[name]
	if !exists {
		return nil, &UnknownToolError{Name: name}
	}

	return entry, nil
}

// List returns the entries in registration order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, r.tools[name])
	}
	return entries
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) GetToolDefinitions() []*llm.ToolDefinition {
	entries := r.List()
	defs := make([]*llm.ToolDefinition, len(entries))

	for i, e := range entries {
		defs[i] = &llm.ToolDefinition{
			Type: "function",
			Function: &llm.FunctionDef{
				Name:        e.Spec.Name,
				Description: e.Spec.Description,
				Parameters:  e.Spec.Schema(),
			},
		}
	}

	return defs
}
