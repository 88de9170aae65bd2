package ptchost

import (
	"context"
	"fmt"
	"strings"

	"ptchost.local/ptchost/internal/ptctypes"
)

// ExecutorToolName is the name under which CreateExecutorTool exposes a
// Client's Execute method as a tool, for hosts that let one agent call
// another agent's executor as a nested tool.
const ExecutorToolName = "ptc_executor"

// CreateExecutorTool wraps client.Execute as a ToolSpec named
// "ptc_executor" accepting {code: non-empty string}. The wrapped
// execution runs against the same catalog and tunables as any other
// call to client.Execute.
func CreateExecutorTool(client *Client) ToolSpec {
	inputSchema := ptctypes.Schema{
		Kind: "object",
		Properties: map[string]ptctypes.Schema{
			"code": {Kind: "string"},
		},
		Required: []string{"code"},
	}

	return ToolSpec{
		Name:        ExecutorToolName,
		Description: "Executes agent-authored source code against the host's tool catalog and returns the result.",
		InputSchema: inputSchema,
		Invoke: func(args any) (any, error) {
			code, err := extractCode(args)
			if err != nil {
				return nil, err
			}
			result := client.Execute(context.Background(), code)
			if !result.Success {
				return nil, fmt.Errorf("%s", result.Error)
			}
			return result.Result, nil
		},
	}
}

func extractCode(args any) (string, error) {
	obj, ok := args.(map[string]any)
	if !ok {
		return "", fmt.Errorf("ptc_executor: expected an object argument")
	}
	raw, ok := obj["code"]
	if !ok {
		return "", fmt.Errorf("ptc_executor: %q is required", "code")
	}
	code, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("ptc_executor: %q must be a string", "code")
	}
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("ptc_executor: %q must not be empty", "code")
	}
	return code, nil
}
