package tools

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode copies loosely typed model arguments into a typed struct tagged with
// `mapstructure`. Numbers arriving as strings and similar mismatches are
// coerced.
func Decode(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}
