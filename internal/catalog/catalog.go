// Package catalog normalizes a heterogeneous tool collection into an
// ordered, indexed set of ToolInfo records and renders the agent-facing
// catalog text.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"ptchost.local/ptchost/internal/ptctypes"
	"ptchost.local/ptchost/internal/schema"
)

// Catalog is the normalized, indexed set of tools exposed to one
// execution. It is read-only after construction and safe for concurrent
// use by any number of Executions.
type Catalog struct {
	order []string
	byNm  map[string]ptctypes.ToolInfo
}

// WithOutputSchema wraps a tool with an explicit output schema, modeling
// the "{ tool, outputSchema }" wrapper form from the tool collection
// input contract.
func WithOutputSchema(tool ptctypes.ToolInfo, output ptctypes.Schema) ptctypes.ToolInfo {
	tool.OutputSchema = &output
	return tool
}

// New normalizes tools into a Catalog. Duplicate names fail construction:
// a name collision is a programming error, not last-write-wins.
func New(tools []ptctypes.ToolInfo) (*Catalog, error) {
	c := &Catalog{byNm: make(map[string]ptctypes.ToolInfo, len(tools))}
	for _, tool := range tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog: tool with empty name")
		}
		if !isValidBareword(name) {
			return nil, fmt.Errorf("catalog: tool name %q is not a valid identifier", name)
		}
		if _, exists := c.byNm[name]; exists {
			return nil, fmt.Errorf("catalog: duplicate tool name %q", name)
		}
		if tool.Invoke == nil {
			return nil, fmt.Errorf("catalog: tool %q has no invoke function", name)
		}
		tool.Name = name
		c.byNm[name] = tool
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)
	return c, nil
}

// ByName looks up a tool by name.
func (c *Catalog) ByName(name string) (ptctypes.ToolInfo, bool) {
	info, ok := c.byNm[name]
	return info, ok
}

// List returns every tool in stable, sorted-by-name order.
func (c *Catalog) List() []ptctypes.ToolInfo {
	out := make([]ptctypes.ToolInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byNm[name])
	}
	return out
}

// Names returns the sorted list of registered tool names, used to build
// "unknown tool" error messages that list what is actually available.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// CatalogText renders the prompt-injection text listing every tool with
// its projected input/output types and description.
func (c *Catalog) CatalogText() string {
	var b strings.Builder
	for _, name := range c.order {
		tool := c.byNm[name]
		inputType := schema.Project(tool.InputSchema)
		outputType := "any"
		if tool.OutputSchema != nil {
			outputType = schema.Project(*tool.OutputSchema)
		}
		fmt.Fprintf(&b, "%s(input: %s) => %s\n", name, inputType, outputType)
		if desc := strings.TrimSpace(tool.Description); desc != "" {
			fmt.Fprintf(&b, "  %s\n", desc)
		}
	}
	return b.String()
}

func isValidBareword(name string) bool {
	for i, r := range name {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == '$'
		isDigit := r >= '0' && r <= '9'
		if i == 0 {
			if !isLetter {
				return false
			}
			continue
		}
		if !isLetter && !isDigit {
			return false
		}
	}
	return len(name) > 0
}
