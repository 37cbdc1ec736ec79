package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

// Registry holds the tools available to the agent. Lookups are
// case-insensitive and listing follows registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry constructs a registry seeded with the provided tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, tool := range tools {
		_ = r.Register(tool)
	}
	return r
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a tool. A tool with the same name replaces the previous one
// and keeps its position in the listing.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	key := registryKey(tool.Descriptor().Name)
	if key == "" {
		return fmt.Errorf("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[key]; !exists {
		r.order = append(r.order, key)
	}
	r.tools[key] = tool
	return nil
}

// Unregister removes a tool if present.
func (r *Registry) Unregister(name string) {
	key := registryKey(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[key]; !exists {
		return
	}
	delete(r.tools, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[registryKey(name)]
	return tool, ok
}

// Tools returns the registered tools in order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.tools[key])
	}
	return out
}

// Descriptors returns a snapshot of the tool descriptors in order.
func (r *Registry) Descriptors() []Descriptor {
	tools := r.Tools()
	out := make([]Descriptor, 0, len(tools))
	for _, tool := range tools {
		out = append(out, tool.Descriptor())
	}
	return out
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	descs := r.Descriptors()
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Validate checks that every required parameter is present in args. It does
// not check types or enum membership.
func (r *Registry) Validate(name string, args map[string]any) error {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	var missing []string
	for _, p := range tool.Descriptor().Parameters {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for %s: missing required parameter(s): %s", ErrInvalidParameters, name, strings.Join(missing, ", "))
	}
	return nil
}

// Execute runs the named tool. Lookup failures, missing parameters and tool
// panics are all reported through a failed Result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result Result) {
	if args == nil {
		args = map[string]any{}
	}
	tool, ok := r.Get(name)
	if !ok {
		return FromError(fmt.Errorf("%w: %s", ErrToolNotFound, name))
	}
	if err := r.Validate(name, args); err != nil {
		return FromError(err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Fail("tool %s failed: %v", name, rec)
			result.Metadata = map[string]any{"stack": string(debug.Stack())}
		}
	}()
	return tool.Execute(ctx, args)
}
