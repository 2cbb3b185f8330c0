package matcher

import (
	"errors"
	"strings"
)

// captureGroup is one capturing group found in a pattern, in textual order.
type captureGroup struct {
	name string // "" for an unnamed group
}

var errExplicitCapture = errors.New("inline (?n) explicit-capture flag is not supported")

// scanGroups lists the capturing groups of a translated pattern in the order
// their opening parentheses appear. This is the numbering a PCRE-family engine
// would assign; regexp2 renumbers named groups after unnamed ones, so the
// compiler maps between the two explicitly.
//
// Extended mode is tracked approximately: an (?x) flag anywhere turns on
// comment skipping for the rest of the pattern.
func scanGroups(p string) ([]captureGroup, error) {
	var groups []captureGroup
	inClass, extended := false, false

	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '\\':
			i = escapeEnd(p, i) - 1

		case inClass:
			if c == ']' {
				inClass = false
			}

		case c == '[':
			inClass = true
			i = classBodyStart(p, i) - 1

		case extended && c == '#':
			for i < len(p) && p[i] != '\n' {
				i++
			}

		case c == '(':
			if i+1 >= len(p) || p[i+1] != '?' {
				if i+1 < len(p) && p[i+1] == '*' {
					continue // (*VERB)
				}
				groups = append(groups, captureGroup{})
				continue
			}

			if name, next, ok := namedGroupAt(p, i); ok {
				groups = append(groups, captureGroup{name: name})
				i = next - 1
				continue
			}

			rest := p[i+2:]
			if strings.HasPrefix(rest, "#") {
				end := strings.IndexByte(rest, ')')
				if end < 0 {
					return groups, nil
				}
				i += 2 + end
				continue
			}

			on, _ := inlineFlags(rest)
			if strings.ContainsRune(on, 'n') {
				return nil, errExplicitCapture
			}
			if strings.ContainsRune(on, 'x') {
				extended = true
			}
		}
	}
	return groups, nil
}

// inlineFlags splits the flag letters at the start of s (after "(?") into
// those turned on and those turned off.
func inlineFlags(s string) (on, off string) {
	end := 0
	for end < len(s) && (isLetter(s[end]) || s[end] == '-') {
		end++
	}
	if end == len(s) || (s[end] != ':' && s[end] != ')') {
		return "", ""
	}
	flags := s[:end]
	if k := strings.IndexByte(flags, '-'); k >= 0 {
		return flags[:k], flags[k+1:]
	}
	return flags, ""
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// distinctCount returns the number of engine groups the list should produce:
// every unnamed group plus one per distinct name.
func distinctCount(groups []captureGroup) int {
	seen := make(map[string]struct{})
	n := 0
	for _, g := range groups {
		if g.name == "" {
			n++
			continue
		}
		if _, ok := seen[g.name]; !ok {
			seen[g.name] = struct{}{}
			n++
		}
	}
	return n
}
