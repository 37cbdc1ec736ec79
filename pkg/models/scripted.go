package models

import (
	"context"
	"errors"
	"sync"

	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

// ErrScriptExhausted is returned once every queued step has been consumed.
var ErrScriptExhausted = errors.New("scripted provider: no more responses")

// ScriptStep is one queued reply of a Scripted provider. A non-nil Err is
// returned wrapped in a ProviderError.
type ScriptStep struct {
	Completion Completion
	Err        error
}

// Scripted is an offline Provider that replays queued steps in order and
// records every request it receives.
type Scripted struct {
	name  string
	model string

	mu       sync.Mutex
	steps    []ScriptStep
	requests []Request
}

// NewScripted creates a scripted provider. An empty name defaults to
// "scripted" and an empty model to "scripted-model".
func NewScripted(name, model string, steps ...ScriptStep) *Scripted {
	if name == "" {
		name = "scripted"
	}
	if model == "" {
		model = "scripted-model"
	}
	return &Scripted{name: name, model: model, steps: append([]ScriptStep(nil), steps...)}
}

// Answer queues a plain text reply.
func Answer(text string) ScriptStep { return ScriptStep{Completion: Completion{Text: text}} }

// Calls queues a tool request.
func Calls(calls ...CallRequest) ScriptStep { return ScriptStep{Completion: Completion{Calls: calls}} }

// Failure queues a provider failure.
func Failure(err error) ScriptStep { return ScriptStep{Err: err} }

func (s *Scripted) Name() string         { return s.name }
func (s *Scripted) DefaultModel() string { return s.model }

// Push appends steps to the queue.
func (s *Scripted) Push(steps ...ScriptStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

func (s *Scripted) Complete(ctx context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = s.model
	}

	s.mu.Lock()
	s.requests = append(s.requests, cloneRequest(req))
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return Completion{}, &ProviderError{Provider: s.name, Model: model, Err: ErrScriptExhausted}
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Completion{}, &ProviderError{Provider: s.name, Model: model, Err: err}
	}
	if step.Err != nil {
		return Completion{}, &ProviderError{Provider: s.name, Model: model, Err: step.Err}
	}
	out := step.Completion
	out.Model = model
	return out, nil
}

// Requests returns a copy of the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Remaining reports how many steps are still queued.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func cloneRequest(req Request) Request {
	out := Request{Model: req.Model}
	out.History = append([]conversation.Message(nil), req.History...)
	out.Tools = append([]tools.FunctionSchema(nil), req.Tools...)
	return out
}

var _ Provider = (*Scripted)(nil)
