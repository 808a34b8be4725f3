package tools

import (
	"context"
	"sort"
)

// Tool is a function the planner model may call while drafting a plan.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, input string) (string, error)
}

// Registry manages the set of available tools.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		Tools: make(map[string]Tool),
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	if r == nil {
		return nil
	}
	return r.Tools[name]
}

// Sorted returns the tools ordered by name.
func (r *Registry) Sorted() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.Tools))
	for _, t := range r.Tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
