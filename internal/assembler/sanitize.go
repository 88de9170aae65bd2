package assembler

import (
	"regexp"
	"strings"
)

// stringMask returns, for every rune index in source, whether that rune
// lies inside a string literal ('...', "...", or `...`), honoring
// backslash escapes. It never attempts full parsing — only enough state
// to keep sanitization from touching string contents.
func stringMask(source []rune) []bool {
	mask := make([]bool, len(source))
	var quote rune
	inString := false
	escaped := false

	for i, r := range source {
		if inString {
			mask[i] = true
			if escaped {
				escaped = false
				continue
			}
			if r == '\\' {
				escaped = true
				continue
			}
			if r == quote {
				inString = false
			}
			continue
		}

		if r == '"' || r == '\'' || r == '`' {
			inString = true
			quote = r
			mask[i] = true
			continue
		}
		mask[i] = false
	}
	return mask
}

var importLineRE = regexp.MustCompile(`(?m)^[ \t]*import\b[^\n]*from[ \t]*["'][^"'\n]*["'][ \t]*;?[ \t]*\n?`)

// removeTopLevelImports strips `import ... from "...";` lines whose
// `import` keyword lies outside string literals. The quoted module path
// is part of the statement itself; an import-like line that begins
// inside a string literal (e.g. within a template literal) is left
// untouched.
func removeTopLevelImports(source string) string {
	runes := []rune(source)
	mask := stringMask(runes)

	byteToRune := runeIndexByByteOffset(source)

	return replaceOutsideStrings(source, importLineRE, mask, byteToRune)
}

var mainWrapperOpenRE = regexp.MustCompile(`(?s)async\s+function\s+main\s*\([^)]*\)\s*\{`)
var exportDefaultMainRE = regexp.MustCompile(`(?m)[ \t]*export\s+default\s+main\s*\(\s*\)\s*;?[ \t]*\n?`)

// removeMainWrapper strips a surrounding `async function main() { ... }`
// plus a trailing `export default main();`, returning just the body. If
// no such wrapper is present the source is returned unchanged.
func removeMainWrapper(source string) string {
	runes := []rune(source)
	mask := stringMask(runes)

	loc := firstMatchOutsideStrings(source, mainWrapperOpenRE, mask)
	if loc == nil {
		return source
	}
	openBraceRuneIdx := runeIndexOf(source, loc[1]-1)
	closeBraceRuneIdx := matchingCloseBrace(runes, mask, openBraceRuneIdx)
	if closeBraceRuneIdx < 0 {
		return source
	}

	prefix := string(runes[:runeIndexOf(source, loc[0])])
	body := string(runes[openBraceRuneIdx+1 : closeBraceRuneIdx])
	suffix := string(runes[closeBraceRuneIdx+1:])

	suffix = exportDefaultMainRE.ReplaceAllString(suffix, "")

	return strings.TrimRight(prefix, " \t") + strings.Trim(body, "\n") + "\n" + suffix
}

// matchingCloseBrace finds the rune index of the '}' matching the '{' at
// openIdx, counting only braces outside string literals.
func matchingCloseBrace(runes []rune, mask []bool, openIdx int) int {
	depth := 0
	for i := openIdx; i < len(runes); i++ {
		if mask[i] {
			continue
		}
		switch runes[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// replaceOutsideStrings removes every regexp match whose first rune lies
// outside string literals.
func replaceOutsideStrings(source string, re *regexp.Regexp, mask []bool, byteToRune func(int) int) string {
	matches := re.FindAllStringIndex(source, -1)
	if len(matches) == 0 {
		return source
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if startRune := byteToRune(start); startRune < len(mask) && mask[startRune] {
			continue
		}
		b.WriteString(source[last:start])
		last = end
	}
	b.WriteString(source[last:])
	return b.String()
}

func firstMatchOutsideStrings(source string, re *regexp.Regexp, mask []bool) []int {
	byteToRune := runeIndexByByteOffset(source)
	for _, m := range re.FindAllStringIndex(source, -1) {
		if !spanInString(mask, byteToRune(m[0]), byteToRune(m[1])) {
			return m
		}
	}
	return nil
}

func spanInString(mask []bool, startRune, endRune int) bool {
	for i := startRune; i < endRune && i < len(mask); i++ {
		if mask[i] {
			return true
		}
	}
	return false
}

// runeIndexByByteOffset builds a lookup closure from byte offset to rune
// index for a given string, needed because regexp works in byte offsets
// while the string mask is indexed by rune.
func runeIndexByByteOffset(s string) func(int) int {
	offsets := make([]int, len(s)+1)
	idx := 0
	for byteOffset := range s {
		offsets[byteOffset] = idx
		idx++
	}
	offsets[len(s)] = idx
	// continuation bytes of a multi-byte rune map to that rune's index
	for i := 1; i < len(s); i++ {
		if offsets[i] == 0 {
			offsets[i] = offsets[i-1]
		}
	}
	return func(byteOffset int) int {
		if byteOffset < 0 {
			return 0
		}
		if byteOffset >= len(offsets) {
			return offsets[len(offsets)-1]
		}
		return offsets[byteOffset]
	}
}

func runeIndexOf(s string, byteOffset int) int {
	return runeIndexByByteOffset(s)(byteOffset)
}

// Sanitize removes agent-authored constructs that would break the
// generated wrapper: top-level import statements and a surrounding
// async-main wrapper. It is a no-op on already-clean source (idempotent)
// and never rewrites string contents.
func Sanitize(source string) string {
	out := removeTopLevelImports(source)
	out = removeMainWrapper(out)
	return out
}
