package models

import (
	"errors"
	"testing"
)

func TestRouterKnownModel(t *testing.T) {
	r := NewRouter("gpt-4")
	openai := NewScripted("openai", "gpt-4")
	anthropic := NewScripted("anthropic", "claude-3-sonnet-20240229")
	r.Register(openai)
	r.Register(anthropic)

	p, model, err := r.Route("claude-3-haiku-20240307")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if p.Name() != "anthropic" || model != "claude-3-haiku-20240307" {
		t.Fatalf("got %s/%s", p.Name(), model)
	}

	p, model, err = r.Route("")
	if err != nil || p.Name() != "openai" || model != "gpt-4" {
		t.Fatalf("default route got %v/%s/%v", p, model, err)
	}
}

func TestRouterUnknownModelFallsBack(t *testing.T) {
	r := NewRouter("gpt-4", "Ollama", "openai")
	r.Register(NewScripted("openai", "gpt-4o"))
	r.Register(NewScripted("ollama", "llama3.1"))

	p, model, err := r.Route("mystery-model")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if p.Name() != "ollama" || model != "llama3.1" {
		t.Fatalf("expected ollama fallback with its default model, got %s/%s", p.Name(), model)
	}
}

func TestRouterKnownModelWithoutProviderFallsBack(t *testing.T) {
	r := NewRouter("")
	r.Register(NewScripted("openai", "gpt-4o"))

	p, model, err := r.Route("gemini-1.5-pro")
	if err != nil || p.Name() != "openai" || model != "gpt-4o" {
		t.Fatalf("got %v/%s/%v", p, model, err)
	}
}

func TestRouterExplicitModels(t *testing.T) {
	r := NewRouter("")
	r.Register(NewScripted("openai", "gpt-4"))
	r.Register(NewScripted("local", "tiny"), "my-finetune", "gpt-4o")

	p, model, err := r.Route("gpt-4o")
	if err != nil || p.Name() != "local" || model != "gpt-4o" {
		t.Fatalf("explicit route should win, got %v/%s/%v", p, model, err)
	}
	p, _, err = r.Route("tiny")
	if err != nil || p.Name() != "local" {
		t.Fatalf("provider default model should be routed, got %v/%v", p, err)
	}
	if got := r.Providers(); len(got) != 2 || got[0] != "openai" || got[1] != "local" {
		t.Fatalf("unexpected providers %v", got)
	}
}

func TestRouterEmpty(t *testing.T) {
	r := NewRouter("gpt-4")
	if _, _, err := r.Route("gpt-4"); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}
