// Package tools defines the tool contract used by the agent, the registry that
// dispatches model-issued calls, and the built-in tool set.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is reported when a call names a tool that is not registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidParameters is reported when a required parameter is missing.
	ErrInvalidParameters = errors.New("invalid parameters")
)

// Parameter types understood by the catalogue.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	Enum        []string
	// Items is the element type of array parameters.
	Items string
}

// Descriptor is the static identity of a tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Required returns the names of the required parameters in declaration order.
func (d Descriptor) Required() []string {
	var out []string
	for _, p := range d.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Result is the outcome of one tool execution.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OK builds a successful result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result with a formatted error message.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// FromError builds a failed result from err.
func FromError(err error) Result {
	if err == nil {
		return Result{Success: false, Error: "unknown error"}
	}
	return Result{Success: false, Error: err.Error()}
}

// JSON serialises the result the way it is stored in tool messages.
func (r Result) JSON() string {
	raw, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Result{Success: false, Error: fmt.Sprintf("encode result: %v", err)})
		return string(fallback)
	}
	return string(raw)
}

// Tool is a named capability the model can invoke.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, args map[string]any) Result
}

// Func adapts a function and a descriptor into a Tool.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, args map[string]any) Result
}

// NewFunc constructs a function-backed tool.
func NewFunc(desc Descriptor, fn func(ctx context.Context, args map[string]any) Result) *Func {
	return &Func{Desc: desc, Fn: fn}
}

func (f *Func) Descriptor() Descriptor { return f.Desc }

func (f *Func) Execute(ctx context.Context, args map[string]any) Result {
	if f.Fn == nil {
		return Fail("tool %s has no implementation", f.Desc.Name)
	}
	return f.Fn(ctx, args)
}

var _ Tool = (*Func)(nil)
