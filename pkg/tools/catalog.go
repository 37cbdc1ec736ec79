package tools

// FunctionSchema is the provider-agnostic description of one tool as
// advertised to a model.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Properties returns the "properties" object of the schema.
func (f FunctionSchema) Properties() map[string]any {
	props, _ := f.Parameters["properties"].(map[string]any)
	if props == nil {
		return map[string]any{}
	}
	return props
}

// RequiredNames returns the "required" list of the schema.
func (f FunctionSchema) RequiredNames() []string {
	req, _ := f.Parameters["required"].([]string)
	return req
}

// Catalog projects the registry into function schemas in registration order.
// It is recomputed on every call.
func Catalog(r *Registry) []FunctionSchema {
	if r == nil {
		return nil
	}
	descs := r.Descriptors()
	out := make([]FunctionSchema, 0, len(descs))
	for _, d := range descs {
		out = append(out, Schema(d))
	}
	return out
}

// Schema converts one descriptor into a function schema.
func Schema(d Descriptor) FunctionSchema {
	props := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		typ := p.Type
		if typ == "" {
			typ = TypeString
		}
		prop := map[string]any{
			"type":        typ,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = append([]string(nil), p.Enum...)
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if typ == TypeArray {
			items := p.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": items}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return FunctionSchema{
		Name:        d.Name,
		Description: d.Description,
		Parameters: map[string]any{
			"type":       TypeObject,
			"properties": props,
			"required":   required,
		},
	}
}
