package schema

import (
	"fmt"
	"reflect"
	"sort"

	"ptchost.local/ptchost/internal/ptctypes"
)

// Validate checks value against s and returns a precise, ordered list of
// field-level failures. A nil/empty result means the value is valid.
// Validation against an unknown or "any" schema always succeeds — the
// projector's total-projection guarantee has a matching total-acceptance
// counterpart for the top type.
func Validate(value any, s ptctypes.Schema) []ptctypes.ValidationFailure {
	return validateAt("$", value, s)
}

func validateAt(path string, value any, s ptctypes.Schema) []ptctypes.ValidationFailure {
	if value == nil {
		if s.Nullable || s.Optional {
			return nil
		}
		if s.Kind == "" || s.Kind == "any" {
			return nil
		}
		return []ptctypes.ValidationFailure{{
			Path:     path,
			Expected: Project(s),
			Received: "null",
			Message:  fmt.Sprintf("%s: expected %s, received null", path, Project(s)),
		}}
	}

	switch s.Kind {
	case "", "any":
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return mismatch(path, s, value)
		}
		return nil
	case "number":
		switch value.(type) {
		case float64, int, int64, float32:
			return nil
		default:
			return mismatch(path, s, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return mismatch(path, s, value)
		}
		return nil
	case "array":
		return validateArray(path, value, s)
	case "object":
		return validateObject(path, value, s)
	case "enum":
		return validateEnum(path, value, s)
	case "literal":
		return validateLiteral(path, value, s)
	case "union":
		return validateUnion(path, value, s)
	default:
		return nil
	}
}

func validateArray(path string, value any, s ptctypes.Schema) []ptctypes.ValidationFailure {
	arr, ok := value.([]any)
	if !ok {
		return mismatch(path, s, value)
	}
	if s.Items == nil {
		return nil
	}
	var failures []ptctypes.ValidationFailure
	for i, item := range arr {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		failures = append(failures, validateAt(itemPath, item, *s.Items)...)
	}
	return failures
}

func validateObject(path string, value any, s ptctypes.Schema) []ptctypes.ValidationFailure {
	obj, ok := value.(map[string]any)
	if !ok {
		return mismatch(path, s, value)
	}

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []ptctypes.ValidationFailure
	for _, name := range names {
		fieldSchema := s.Properties[name]
		fieldPath := path + "." + name
		fieldValue, present := obj[name]
		if !present {
			if required[name] {
				failures = append(failures, ptctypes.ValidationFailure{
					Path:     fieldPath,
					Expected: Project(fieldSchema),
					Received: "undefined",
					Message:  fmt.Sprintf("%s: missing required field", fieldPath),
				})
			}
			continue
		}
		failures = append(failures, validateAt(fieldPath, fieldValue, fieldSchema)...)
	}
	return failures
}

func validateEnum(path string, value any, s ptctypes.Schema) []ptctypes.ValidationFailure {
	str, ok := value.(string)
	if !ok {
		return mismatch(path, s, value)
	}
	for _, allowed := range s.Values {
		if allowed == str {
			return nil
		}
	}
	return []ptctypes.ValidationFailure{{
		Path:     path,
		Expected: Project(s),
		Received: fmt.Sprintf("%q", str),
		Message:  fmt.Sprintf("%s: %q is not one of %s", path, str, Project(s)),
	}}
}

func validateLiteral(path string, value any, s ptctypes.Schema) []ptctypes.ValidationFailure {
	if literalsEqual(value, s.Literal) {
		return nil
	}
	return []ptctypes.ValidationFailure{{
		Path:     path,
		Expected: Project(s),
		Received: fmt.Sprintf("%v", value),
		Message:  fmt.Sprintf("%s: expected literal %s", path, Project(s)),
	}}
}

// literalsEqual compares a decoded JSON argument against a schema
// literal. Decoded JSON numbers always arrive as float64, but a literal
// built in Go code (int, int64, ...) does not, so plain interface
// equality would reject valid input like 5 against Literal: 5. Numbers
// are compared by value after widening both sides to float64; everything
// else falls back to reflect.DeepEqual.
func literalsEqual(value, literal any) bool {
	if a, ok := toFloat64(value); ok {
		if b, ok := toFloat64(literal); ok {
			return a == b
		}
	}
	return reflect.DeepEqual(value, literal)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func validateUnion(path string, value any, s ptctypes.Schema) []ptctypes.ValidationFailure {
	if len(s.Options) == 0 {
		return nil
	}
	for _, opt := range s.Options {
		if len(validateAt(path, value, opt)) == 0 {
			return nil
		}
	}
	return []ptctypes.ValidationFailure{{
		Path:     path,
		Expected: Project(s),
		Received: describe(value),
		Message:  fmt.Sprintf("%s: value did not match any of %s", path, Project(s)),
	}}
}

func mismatch(path string, s ptctypes.Schema, value any) []ptctypes.ValidationFailure {
	return []ptctypes.ValidationFailure{{
		Path:     path,
		Expected: Project(s),
		Received: describe(value),
		Message:  fmt.Sprintf("%s: expected %s, received %s", path, Project(s), describe(value)),
	}}
}

func describe(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64, float32:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}
