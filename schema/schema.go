// Package schema gates deliveries against a task's declared output schema.
//
// Structural validation (type, required, properties, items, formats) is
// delegated to a general-purpose JSON Schema validator; this package only
// shapes its verdicts into the board's contract: nil on success, a
// human-readable path+message list on failure.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Validate checks data against a JSON Schema.
// Returns nil if the data conforms, or a list of "<path> <message>" error
// strings if it does not. Validator failures (unloadable schema, panics in
// the underlying library) surface as a single-element list rather than an
// error: from the caller's point of view the delivery did not pass the gate.
func Validate(schema, data json.RawMessage) (errs []string) {
	defer func() {
		if r := recover(); r != nil {
			errs = []string{fmt.Sprintf("schema validation error: %v", r)}
		}
	}()

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return []string{fmt.Sprintf("schema validation error: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	out := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		path := e.Field()
		if path == "(root)" {
			path = "/"
		}
		out = append(out, fmt.Sprintf("%s %s", path, e.Description()))
	}
	return out
}

// IsWellFormed reports whether a candidate output schema is plausibly a
// JSON Schema: a JSON object declaring at least one of type, properties,
// items, or a combinator. Deliberately loose; it gates task creation, not
// delivery.
func IsWellFormed(candidate json.RawMessage) bool {
	if len(candidate) == 0 {
		return false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(candidate, &obj); err != nil {
		return false
	}

	for _, key := range []string{"type", "properties", "items", "oneOf", "anyOf", "allOf"} {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}
