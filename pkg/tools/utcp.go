package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	utcptools "github.com/universal-tool-calling-protocol/go-utcp/src/tools"
)

// UTCPClient is the subset of the go-utcp client used to discover and call
// remote tools.
type UTCPClient interface {
	SearchTools(query string, limit int) ([]utcptools.Tool, error)
	CallTool(ctx context.Context, toolName string, args map[string]any) (any, error)
}

// UTCPTool forwards execution to a tool exposed through UTCP.
type UTCPTool struct {
	client UTCPClient
	desc   Descriptor
	remote string
}

// NewUTCPTool wraps one discovered UTCP tool.
func NewUTCPTool(client UTCPClient, def utcptools.Tool) *UTCPTool {
	return &UTCPTool{
		client: client,
		remote: def.Name,
		desc: Descriptor{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  parametersFromSchema(def.Inputs.Properties, def.Inputs.Required),
		},
	}
}

func (t *UTCPTool) Descriptor() Descriptor { return t.desc }

func (t *UTCPTool) Execute(ctx context.Context, args map[string]any) Result {
	out, err := t.client.CallTool(ctx, t.remote, args)
	if err != nil {
		return Fail("utcp tool %s failed: %v", t.remote, err)
	}
	res := OK(out)
	res.Metadata = map[string]any{"source": "utcp"}
	return res
}

// LoadUTCPTools discovers tools matching query and registers them. It returns
// the number of tools registered.
func LoadUTCPTools(client UTCPClient, registry *Registry, query string, limit int) (int, error) {
	if client == nil || registry == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	defs, err := client.SearchTools(query, limit)
	if err != nil {
		return 0, fmt.Errorf("search utcp tools: %w", err)
	}
	n := 0
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}
		if err := registry.Register(NewUTCPTool(client, def)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// parametersFromSchema turns a JSON-schema "properties" object into
// parameters sorted by name.
func parametersFromSchema(props map[string]any, required []string) []Parameter {
	req := make(map[string]bool, len(required))
	for _, name := range required {
		req[name] = true
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Parameter, 0, len(names))
	for _, name := range names {
		p := Parameter{Name: name, Type: TypeString, Required: req[name]}
		if schema, ok := props[name].(map[string]any); ok {
			if typ, ok := schema["type"].(string); ok && typ != "" {
				p.Type = typ
			}
			if desc, ok := schema["description"].(string); ok {
				p.Description = desc
			}
			p.Default = schema["default"]
			p.Enum = stringList(schema["enum"])
			if items, ok := schema["items"].(map[string]any); ok {
				p.Items, _ = items["type"].(string)
			}
		}
		params = append(params, p)
	}
	return params
}

func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string(nil), vals...)
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

// schemaProperties decodes a raw JSON schema into its properties and
// required list.
func schemaProperties(raw []byte) (map[string]any, []string) {
	if len(raw) == 0 {
		return nil, nil
	}
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, nil
	}
	return schema.Properties, schema.Required
}
