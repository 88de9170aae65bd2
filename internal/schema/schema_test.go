package schema

import (
	"testing"

	"ptchost.local/ptchost/internal/ptctypes"
)

func TestProjectPrimitives(t *testing.T) {
	cases := []struct {
		s    ptctypes.Schema
		want string
	}{
		{ptctypes.Schema{Kind: "string"}, "string"},
		{ptctypes.Schema{Kind: "number"}, "number"},
		{ptctypes.Schema{Kind: "boolean"}, "boolean"},
		{ptctypes.Schema{}, "any"},
		{ptctypes.Schema{Kind: "array", Items: &ptctypes.Schema{Kind: "string"}}, "string[]"},
		{ptctypes.Schema{Kind: "array"}, "any[]"},
		{ptctypes.Schema{Kind: "enum", Values: []string{"add", "subtract"}}, `"add" | "subtract"`},
	}
	for _, c := range cases {
		if got := Project(c.s); got != c.want {
			t.Errorf("Project(%+v) = %q, want %q", c.s, got, c.want)
		}
	}
}

func TestProjectObjectSortsFieldsAndMarksOptional(t *testing.T) {
	s := ptctypes.Schema{
		Kind: "object",
		Properties: map[string]ptctypes.Schema{
			"city":    {Kind: "string"},
			"country": {Kind: "string"},
		},
		Required: []string{"city"},
	}
	want := `{ city: string; country?: string }`
	if got := Project(s); got != want {
		t.Errorf("Project(object) = %q, want %q", got, want)
	}
}

func TestProjectNullableAndOptionalSuffixes(t *testing.T) {
	s := ptctypes.Schema{Kind: "string", Nullable: true, Optional: true}
	want := "string | null | undefined"
	if got := Project(s); got != want {
		t.Errorf("Project = %q, want %q", got, want)
	}
}

func TestValidatePrimitivesRejectWrongType(t *testing.T) {
	failures := Validate("not-a-number", ptctypes.Schema{Kind: "number"})
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d: %+v", len(failures), failures)
	}
	if failures[0].Path != "$" {
		t.Errorf("expected path $, got %q", failures[0].Path)
	}
}

func TestValidateObjectMissingRequiredField(t *testing.T) {
	s := ptctypes.Schema{
		Kind:       "object",
		Properties: map[string]ptctypes.Schema{"city": {Kind: "string"}},
		Required:   []string{"city"},
	}
	failures := Validate(map[string]any{}, s)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d: %+v", len(failures), failures)
	}
	if failures[0].Path != "$.city" {
		t.Errorf("expected path $.city, got %q", failures[0].Path)
	}
}

func TestValidateObjectAcceptsValidValue(t *testing.T) {
	s := ptctypes.Schema{
		Kind:       "object",
		Properties: map[string]ptctypes.Schema{"city": {Kind: "string"}},
		Required:   []string{"city"},
	}
	failures := Validate(map[string]any{"city": "london"}, s)
	if len(failures) != 0 {
		t.Fatalf("expected no failures, got %+v", failures)
	}
}

func TestValidateArrayElementPaths(t *testing.T) {
	s := ptctypes.Schema{Kind: "array", Items: &ptctypes.Schema{Kind: "number"}}
	failures := Validate([]any{1.0, "oops", 3.0}, s)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d: %+v", len(failures), failures)
	}
	if failures[0].Path != "$[1]" {
		t.Errorf("expected path $[1], got %q", failures[0].Path)
	}
}

func TestValidateEnumRejectsUnknownValue(t *testing.T) {
	s := ptctypes.Schema{Kind: "enum", Values: []string{"add", "subtract"}}
	failures := Validate("multiply", s)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", failures)
	}
}

func TestValidateNullAgainstNullableSucceeds(t *testing.T) {
	s := ptctypes.Schema{Kind: "string", Nullable: true}
	if failures := Validate(nil, s); len(failures) != 0 {
		t.Fatalf("expected nullable schema to accept nil, got %+v", failures)
	}
}

func TestValidateNullAgainstNonNullableFails(t *testing.T) {
	s := ptctypes.Schema{Kind: "string"}
	if failures := Validate(nil, s); len(failures) != 1 {
		t.Fatalf("expected non-nullable schema to reject nil, got %+v", failures)
	}
}

func TestValidateLiteralAcceptsDecodedJSONNumberAgainstGoIntLiteral(t *testing.T) {
	s := ptctypes.Schema{Kind: "literal", Literal: 5}
	if failures := Validate(5.0, s); len(failures) != 0 {
		t.Fatalf("expected float64(5) to match Literal: 5, got %+v", failures)
	}
}

func TestValidateLiteralAcceptsBool(t *testing.T) {
	s := ptctypes.Schema{Kind: "literal", Literal: true}
	if failures := Validate(true, s); len(failures) != 0 {
		t.Fatalf("expected true to match Literal: true, got %+v", failures)
	}
}

func TestValidateLiteralRejectsMismatch(t *testing.T) {
	s := ptctypes.Schema{Kind: "literal", Literal: 5}
	if failures := Validate(6.0, s); len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", failures)
	}
}

func TestValidateUnionAcceptsAnyMatchingOption(t *testing.T) {
	s := ptctypes.Schema{Kind: "union", Options: []ptctypes.Schema{{Kind: "string"}, {Kind: "number"}}}
	if failures := Validate(42.0, s); len(failures) != 0 {
		t.Fatalf("expected union to accept a matching option, got %+v", failures)
	}
	if failures := Validate(true, s); len(failures) != 1 {
		t.Fatalf("expected union to reject a non-matching value, got %+v", failures)
	}
}
