// Package assembler implements the Code Assembler: it sanitizes
// agent-authored source, checks structural well-formedness, and emits
// the three sandbox files (stubs, runtime, entry) that wrap that source
// into a runnable program.
package assembler

import (
	"fmt"

	"ptchost.local/ptchost/internal/ptctypes"
)

// UnbalancedBraces is returned when sanitized source has mismatched
// braces outside string literals. It names precisely which side is
// missing and by how many, because the downstream transpiler's
// positional diagnostics are a poor self-repair signal for an agent.
type UnbalancedBraces struct {
	Open  int
	Close int
}

func (e *UnbalancedBraces) Error() string {
	if e.Open > e.Close {
		return fmt.Sprintf("unbalanced braces: %d unmatched '{'. Missing %d closing '}'.", e.Open, e.Open-e.Close)
	}
	return fmt.Sprintf("unbalanced braces: %d unmatched '}'. Missing %d opening '{'.", e.Close, e.Close-e.Open)
}

// Files holds the three generated sandbox files, keyed by their fixed
// protocol paths' base names.
type Files struct {
	Stubs   string
	Runtime string
	Main    string
}

// Ext is the sandbox source file extension the assembler targets. The
// transpiler/runner that actually executes these files is an external
// collaborator; the assembler only needs to know the extension to name
// files and generate an import statement between them.
const Ext = "ts"

// Assemble sanitizes source, checks brace balance, and emits the three
// sandbox files for the given tool catalog. It never touches a sandbox —
// on any failure it returns an error and no files.
func Assemble(source string, tools []ptctypes.ToolInfo) (Files, error) {
	sanitized := Sanitize(source)

	if err := checkBalancedBraces(sanitized); err != nil {
		return Files{}, err
	}

	return Files{
		Stubs:   emitStubs(tools),
		Runtime: emitRuntime(),
		Main:    emitMain(sanitized, tools),
	}, nil
}

// checkBalancedBraces counts '{' and '}' outside string literals and
// fails with a targeted message when they don't match.
func checkBalancedBraces(source string) error {
	runes := []rune(source)
	mask := stringMask(runes)

	open, close := 0, 0
	for i, r := range runes {
		if mask[i] {
			continue
		}
		switch r {
		case '{':
			open++
		case '}':
			close++
		}
	}
	if open != close {
		return &UnbalancedBraces{Open: open, Close: close}
	}
	return nil
}
