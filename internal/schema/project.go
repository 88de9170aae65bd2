// Package schema implements the Schema Projector: it turns a declarative
// tool schema into a human/agent-readable surface type description and
// validates runtime arguments against that same schema.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ptchost.local/ptchost/internal/ptctypes"
)

// Project renders a schema as the surface type syntax used both for
// generated sandbox stub signatures and for catalog prompt text.
// Projection is total: unknown or empty schema kinds project as "any".
func Project(s ptctypes.Schema) string {
	base := projectBase(s)
	if s.Nullable {
		base = base + " | null"
	}
	if s.Optional {
		base = base + " | undefined"
	}
	return base
}

func projectBase(s ptctypes.Schema) string {
	switch s.Kind {
	case "string":
		return "string"
	case "number":
		return "number"
	case "boolean":
		return "boolean"
	case "array":
		if s.Items == nil {
			return "any[]"
		}
		return Project(*s.Items) + "[]"
	case "object":
		return projectObject(s)
	case "enum":
		return projectEnum(s.Values)
	case "literal":
		return projectLiteral(s.Literal)
	case "union":
		return projectUnion(s.Options)
	default:
		return "any"
	}
}

func projectObject(s ptctypes.Schema) string {
	if len(s.Properties) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	fields := make([]string, 0, len(names))
	for _, name := range names {
		field := s.Properties[name]
		optMark := ""
		if !required[name] && !field.Optional {
			optMark = "?"
		}
		fields = append(fields, fmt.Sprintf("%s%s: %s", name, optMark, Project(field)))
	}
	return "{ " + strings.Join(fields, "; ") + " }"
}

func projectEnum(values []string) string {
	if len(values) == 0 {
		return "string"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, " | ")
}

func projectLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func projectUnion(options []ptctypes.Schema) string {
	if len(options) == 0 {
		return "any"
	}
	parts := make([]string, len(options))
	for i, opt := range options {
		parts[i] = Project(opt)
	}
	return strings.Join(parts, " | ")
}
