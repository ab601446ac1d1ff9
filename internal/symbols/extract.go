package symbols

import (
	"regexp"
	"strings"
)

// definitionPattern matches "func Name", "class Name" or "namespace Name"
// at the start of a line. Only the first definition on a line counts.
var definitionPattern = regexp.MustCompile(`^\s*(func|class|namespace)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// identPattern is a Jaithon identifier.
var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Extract returns the definitions in text, in line order.
func Extract(text string) []Definition {
	var defs []Definition
	for i, line := range splitLines(text) {
		if def, ok := matchLine(line); ok {
			def.Line = i
			defs = append(defs, def)
		}
	}
	return defs
}

// FindDefinition returns the first definition of name in text.
func FindDefinition(text, name string) (Definition, bool) {
	for i, line := range splitLines(text) {
		if def, ok := matchLine(line); ok && def.Name == name {
			def.Line = i
			return def, true
		}
	}
	return Definition{}, false
}

func matchLine(line string) (Definition, bool) {
	m := definitionPattern.FindStringSubmatchIndex(line)
	if m == nil {
		return Definition{}, false
	}
	kind, ok := KindFromKeyword(line[m[2]:m[3]])
	if !ok {
		return Definition{}, false
	}
	return Definition{
		Name:   line[m[4]:m[5]],
		Kind:   kind,
		Column: m[4],
	}, true
}

// splitLines splits on \n and drops a trailing \r from each line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// WordAt returns the identifier covering byte column col of line, or "".
// A cursor sitting just past the last character still selects the word.
func WordAt(line string, col int) string {
	for _, loc := range identPattern.FindAllStringIndex(line, -1) {
		if loc[0] <= col && col <= loc[1] {
			return line[loc[0]:loc[1]]
		}
	}
	return ""
}

// PrefixAt returns the identifier characters immediately before col.
func PrefixAt(line string, col int) string {
	if col > len(line) {
		col = len(line)
	}
	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	return line[start:col]
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
