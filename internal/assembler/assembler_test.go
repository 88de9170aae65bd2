package assembler

import (
	"strings"
	"testing"

	"ptchost.local/ptchost/internal/ptctypes"
)

func stubTool(name string) ptctypes.ToolInfo {
	return ptctypes.ToolInfo{
		Name:        name,
		InputSchema: ptctypes.Schema{Kind: "object"},
		Invoke:      func(args any) (any, error) { return nil, nil },
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	source := `const r = await get_weather({city:"london"}); return r;`
	once := Sanitize(source)
	twice := Sanitize(once)
	if once != twice {
		t.Fatalf("Sanitize is not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestSanitizeStripsTopLevelImport(t *testing.T) {
	source := "import { thing } from \"nope\";\nreturn 1;"
	out := Sanitize(source)
	if strings.Contains(out, "import") {
		t.Fatalf("expected top-level import to be stripped, got %q", out)
	}
}

func TestSanitizeLeavesImportLikeStringContentAlone(t *testing.T) {
	source := "const s = \"import { x } from 'y';\"; return s;"
	out := Sanitize(source)
	if !strings.Contains(out, "import { x } from 'y';") {
		t.Fatalf("expected string literal to survive sanitization untouched, got %q", out)
	}
}

func TestSanitizeUnwrapsAsyncMainWrapper(t *testing.T) {
	source := "async function main() {\n  return 1;\n}\nexport default main();\n"
	out := Sanitize(source)
	if strings.Contains(out, "async function main") {
		t.Fatalf("expected async main wrapper to be removed, got %q", out)
	}
	if !strings.Contains(out, "return 1;") {
		t.Fatalf("expected wrapper body to survive, got %q", out)
	}
}

func TestSanitizeLeavesPlainSourceUnchanged(t *testing.T) {
	source := "const r = 1;\nreturn r;"
	if got := Sanitize(source); got != source {
		t.Fatalf("expected unwrapped source to pass through unchanged, got %q", got)
	}
}

func TestAssembleRejectsUnbalancedBraces(t *testing.T) {
	_, err := Assemble("if (true) { return 1;", []ptctypes.ToolInfo{stubTool("calculate")})
	if err == nil {
		t.Fatal("expected an unbalanced braces error")
	}
	unbalanced, ok := err.(*UnbalancedBraces)
	if !ok {
		t.Fatalf("expected *UnbalancedBraces, got %T", err)
	}
	if unbalanced.Open != 1 || unbalanced.Close != 0 {
		t.Fatalf("expected Open=1 Close=0, got Open=%d Close=%d", unbalanced.Open, unbalanced.Close)
	}
}

func TestAssembleIgnoresBracesInsideStringLiterals(t *testing.T) {
	source := `const s = "{ not a real brace"; return s;`
	files, err := Assemble(source, []ptctypes.ToolInfo{stubTool("calculate")})
	if err != nil {
		t.Fatalf("expected braces inside a string literal not to trip balance checking: %v", err)
	}
	if !strings.Contains(files.Main, `"{ not a real brace"`) {
		t.Fatalf("expected sanitized source to be embedded in main, got %q", files.Main)
	}
}

func TestAssembleEmitsStubForEveryTool(t *testing.T) {
	files, err := Assemble("return 1;", []ptctypes.ToolInfo{stubTool("calculate"), stubTool("get_weather")})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(files.Stubs, "export async function calculate") {
		t.Fatalf("expected a calculate stub, got %q", files.Stubs)
	}
	if !strings.Contains(files.Stubs, "export async function get_weather") {
		t.Fatalf("expected a get_weather stub, got %q", files.Stubs)
	}
}
