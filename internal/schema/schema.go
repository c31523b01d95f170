// Package schema turns caller-supplied extraction schemas into the plain
// JSON-schema maps that are sent to model backends. The translation is a pure
// function of the input value and carries no provider-specific quirks; those
// stay behind the LLM client.
package schema

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Describe converts a schema value into a JSON-schema shaped map.
//
// Accepted inputs:
//   - map[string]any: treated as an already-built JSON-schema fragment and
//     returned as-is
//   - a struct or pointer to struct: reflected into a JSON schema
func Describe(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: unsupported schema type %T", v)
	}

	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(v)

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal reflected schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("schema: decode reflected schema: %w", err)
	}
	// The $schema header is noise in a prompt context.
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// DecodeInto unmarshals extracted fields into a caller-provided destination.
// dest must be a non-nil pointer; a nil dest is a no-op.
func DecodeInto(fields map[string]any, dest any) error {
	if dest == nil {
		return nil
	}
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("schema: destination must be a non-nil pointer, got %T", dest)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
