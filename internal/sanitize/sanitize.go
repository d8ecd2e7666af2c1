// Package sanitize normalizes LLM-generated file text before it is written
// to disk.
package sanitize

import "strings"

var escapeReplacer = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r")

// Content applies the write-time normalization rules:
//
//   - surrounding code fences (``` with optional language tag) are stripped
//   - literal escape sequences are unescaped when the payload arrived as one
//     escaped line
//   - a single trailing newline is enforced
func Content(text string) string {
	s := strings.TrimSpace(text)

	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		if len(lines) > 0 {
			lines = lines[1:] // drop ``` or ```lang
		}
		if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
			lines = lines[:len(lines)-1]
		}
		s = strings.Join(lines, "\n")
	}

	// A payload whose newlines all arrived as literal "\n" was escaped in
	// transit. Real multi-line content keeps its backslash sequences (they
	// may be string literals in code).
	if !strings.Contains(s, "\n") && (strings.Contains(s, `\n`) || strings.Contains(s, `\t`) || strings.Contains(s, `\r`)) {
		s = escapeReplacer.Replace(s)
	}

	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
