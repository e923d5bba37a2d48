package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// FormatResult renders a tool handler result as the text of a single content
// item. Maps, slices, arrays and structs (or pointers to them) become JSON
// indented by two spaces, strings pass through verbatim and every other value
// is rendered with fmt.Sprint. A nil result renders as "null".
func FormatResult(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "null", nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return marshalIndent(v)
	default:
		return fmt.Sprint(rv.Interface()), nil
	}
}

// marshalIndent encodes v as two-space indented JSON without HTML escaping.
func marshalIndent(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
