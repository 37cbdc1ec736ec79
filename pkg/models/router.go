package models

import (
	"fmt"
	"strings"
	"sync"
)

// KnownModels maps well-known model ids to the provider that serves them.
var KnownModels = map[string]string{
	"gpt-4":                    "openai",
	"gpt-4-turbo":              "openai",
	"gpt-4o":                   "openai",
	"gpt-4o-mini":              "openai",
	"gpt-3.5-turbo":            "openai",
	"claude-3-sonnet-20240229": "anthropic",
	"claude-3-opus-20240229":   "anthropic",
	"claude-3-haiku-20240307":  "anthropic",
	"claude-3-5-sonnet-latest": "anthropic",
	"gemini-1.5-pro":           "gemini",
	"gemini-1.5-flash":         "gemini",
	"gemini-2.0-flash":         "gemini",
	"llama3.1":                 "ollama",
	"llama3.2":                 "ollama",
	"qwen2.5":                  "ollama",
}

// Router picks a provider for a model id. Routing is an explicit table
// lookup; an unknown model goes to the first available provider in the
// fallback order, then in registration order, which then uses its own
// default model.
type Router struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	order        []string
	routes       map[string]string
	fallback     []string
	defaultModel string
}

// NewRouter creates a router. defaultModel is used for requests that name
// no model; fallback lists provider names in preference order.
func NewRouter(defaultModel string, fallback ...string) *Router {
	r := &Router{
		providers:    make(map[string]Provider),
		routes:       make(map[string]string, len(KnownModels)),
		defaultModel: defaultModel,
	}
	for m, p := range KnownModels {
		r.routes[m] = p
	}
	for _, name := range fallback {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			r.fallback = append(r.fallback, name)
		}
	}
	return r
}

// Register adds a provider. models are routed to it in addition to the
// known table and the provider's own default model.
func (r *Router) Register(p Provider, models ...string) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(p.Name())
	if _, ok := r.providers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	if m := p.DefaultModel(); m != "" {
		if _, taken := r.routes[m]; !taken {
			r.routes[m] = name
		}
	}
	for _, m := range models {
		r.routes[m] = name
	}
}

// Route maps a model id, or the default model when empty, to a provider and
// the model id it should be asked for.
func (r *Router) Route(model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if model == "" {
		model = r.defaultModel
	}
	if name, ok := r.routes[model]; ok {
		if p, ok := r.providers[name]; ok {
			return p, model, nil
		}
	}

	for _, name := range append(append([]string(nil), r.fallback...), r.order...) {
		if p, ok := r.providers[name]; ok {
			return p, p.DefaultModel(), nil
		}
	}
	return nil, "", fmt.Errorf("%w for model %q", ErrNoProvider, model)
}

// Providers returns the registered provider names in registration order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// DefaultModel returns the model used when a request names none.
func (r *Router) DefaultModel() string {
	return r.defaultModel
}
