// Package classifier converts raw transpiler/runner output into a
// structured, agent-friendly error message. Classification is pure and
// deterministic: no I/O, no side effects.
package classifier

import (
	"regexp"
	"strings"
)

var (
	transformFailedRE = regexp.MustCompile(`Transform failed with (\d+) errors?:`)
	locatedErrorRE    = regexp.MustCompile(`([^\s:][^:\n]*):(\d+):(\d+):\s*ERROR:\s*(.+)`)
	namedErrorRE      = regexp.MustCompile(`\b(Syntax|Type|Reference|Range)Error:\s*(.+)`)
	genericErrorRE    = regexp.MustCompile(`(?m)^Error:\s*(.+)$`)
)

var braceHintTriggers = []string{"unexpected catch", "unexpected }", "expected"}

// Classify inspects combined stderr+stdout and returns the best
// agent-facing summary of what went wrong, per the priority order:
// transpile diagnostics, then a bare located error line, then a named
// JS error, then a generic "Error:" line, then a cleaned fallback.
func Classify(combinedOutput string) string {
	if loc := transformFailedRE.FindStringSubmatchIndex(combinedOutput); loc != nil {
		if m := locatedErrorRE.FindStringSubmatch(combinedOutput[loc[1]:]); m != nil {
			return formatLocated(m, true)
		}
	}

	if m := locatedErrorRE.FindStringSubmatch(combinedOutput); m != nil {
		return formatLocated(m, false)
	}

	if m := namedErrorRE.FindStringSubmatch(combinedOutput); m != nil {
		kind := m[1]
		msg := strings.TrimSpace(m[2])
		if kind == "" {
			kind = "Runtime"
		}
		loc := ""
		if lm := locatedErrorRE.FindStringSubmatch(combinedOutput); lm != nil {
			loc = " at " + lm[1] + ":" + lm[2] + ":" + lm[3]
		}
		return "runtime error: " + kind + "Error: " + msg + loc
	}

	if m := genericErrorRE.FindStringSubmatch(combinedOutput); m != nil {
		return "Error: " + strings.TrimSpace(m[1])
	}

	return fallback(combinedOutput)
}

func formatLocated(m []string, fromTransform bool) string {
	path, line, col, msg := m[1], m[2], m[3], strings.TrimSpace(m[4])
	base := "compilation error at " + path + ":" + line + ":" + col + ": " + msg
	lower := strings.ToLower(msg)
	for _, trigger := range braceHintTriggers {
		if strings.Contains(lower, trigger) {
			return base + " (hint: check for unbalanced braces)"
		}
	}
	if fromTransform {
		return base
	}
	return base
}

var noisePrefixes = []string{"npm ", "warn ", "info ", "at ", "    at ", "\tat "}

// fallback strips package-manager and stack-frame noise from stderr and
// returns the first remaining meaningful line, or a generic message if
// nothing is left.
func fallback(combinedOutput string) string {
	for _, line := range strings.Split(combinedOutput, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		noisy := false
		for _, prefix := range noisePrefixes {
			if strings.HasPrefix(lower, prefix) {
				noisy = true
				break
			}
		}
		if noisy {
			continue
		}
		return trimmed
	}
	return "code execution failed"
}
