// Package tools manages the tool registry: descriptors describing each tool
// for the LLM, handlers executing them, and rendering of provider-facing
// function-calling schemas.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/nousworks/nous/pkg/models"
)

// Handler executes a tool call. Arguments arrive as the raw JSON emitted by
// the model; the returned value is serialized as JSON and fed back to the
// model as a tool-role message.
type Handler func(ctx context.Context, args json.RawMessage, sess models.SessionContext) (any, error)

// Parameter describes a single tool parameter.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description" yaml:"description"`
}

// Descriptor describes a tool for model consumption and registry queries.
type Descriptor struct {
	Name        string      `json:"name" yaml:"name"`
	Category    string      `json:"category" yaml:"category"`
	Description string      `json:"description" yaml:"description"`
	Parameters  []Parameter `json:"parameters" yaml:"parameters"`
	Examples    []string    `json:"examples,omitempty" yaml:"examples,omitempty"`
	Notes       string      `json:"notes,omitempty" yaml:"notes,omitempty"`
}

type registration struct {
	descriptor Descriptor
	handler    Handler
}

// Registry holds tool descriptors and their handlers. It is populated at
// startup and read-only afterwards; all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds a tool. Re-registering a name replaces the previous entry.
func (r *Registry) Register(descriptor Descriptor, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[descriptor.Name]; !exists {
		r.order = append(r.order, descriptor.Name)
	}
	r.tools[descriptor.Name] = registration{descriptor: descriptor, handler: handler}
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.descriptor, ok
}

// Handler returns the handler for name.
func (r *Registry) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.handler, ok
}

// ListAll returns every descriptor in registration order.
func (r *Registry) ListAll() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].descriptor)
	}
	return out
}

// ListByCategory returns descriptors matching the category.
func (r *Registry) ListByCategory(category string) []Descriptor {
	var out []Descriptor
	for _, d := range r.ListAll() {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Search returns descriptors whose name or description contains the query,
// case-insensitive.
func (r *Registry) Search(query string) []Descriptor {
	query = strings.ToLower(query)
	var out []Descriptor
	for _, d := range r.ListAll() {
		if strings.Contains(strings.ToLower(d.Name), query) ||
			strings.Contains(strings.ToLower(d.Description), query) {
			out = append(out, d)
		}
	}
	return out
}

// Categories returns the sorted set of categories in use.
func (r *Registry) Categories() []string {
	seen := make(map[string]struct{})
	for _, d := range r.ListAll() {
		if d.Category != "" {
			seen[d.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
