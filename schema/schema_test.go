package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

var zipSchema = json.RawMessage(`{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {"zip": {"type": "string"}},
		"required": ["zip"]
	}
}`)

func TestValidate_Conforming(t *testing.T) {
	errs := Validate(zipSchema, json.RawMessage(`[{"zip": "90210"}]`))
	if errs != nil {
		t.Errorf("expected no errors for conforming data, got %v", errs)
	}
}

func TestValidate_WrongType(t *testing.T) {
	errs := Validate(zipSchema, json.RawMessage(`[{"zip": 1}]`))
	if len(errs) == 0 {
		t.Fatal("expected errors for zip as number")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "zip") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error naming the zip path, got %v", errs)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`)
	errs := Validate(schema, json.RawMessage(`{}`))
	if len(errs) == 0 {
		t.Fatal("expected errors for missing required property")
	}
}

func TestValidate_BrokenSchema(t *testing.T) {
	// An unloadable schema must not pass data through the gate.
	errs := Validate(json.RawMessage(`{"type": 42}`), json.RawMessage(`{}`))
	if len(errs) == 0 {
		t.Fatal("expected a validation error for a broken schema")
	}
	if !strings.Contains(errs[0], "schema validation error") {
		t.Errorf("expected wrapped validator error, got %v", errs)
	}
}

func TestIsWellFormed(t *testing.T) {
	cases := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"type only", `{"type": "object"}`, true},
		{"properties only", `{"properties": {"a": {}}}`, true},
		{"items only", `{"items": {"type": "string"}}`, true},
		{"oneOf", `{"oneOf": [{"type": "string"}]}`, true},
		{"anyOf", `{"anyOf": [{"type": "string"}]}`, true},
		{"allOf", `{"allOf": [{"type": "string"}]}`, true},
		{"empty object", `{}`, false},
		{"unrelated keys", `{"title": "nope"}`, false},
		{"not an object", `"string"`, false},
		{"array", `[1,2]`, false},
		{"invalid json", `{`, false},
		{"empty", ``, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsWellFormed(json.RawMessage(tc.candidate))
			if got != tc.want {
				t.Errorf("IsWellFormed(%s): expected %v, got %v", tc.candidate, tc.want, got)
			}
		})
	}
}
