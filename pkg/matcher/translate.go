package matcher

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// Translate rewrites a detection pattern authored for a PCRE/RE2-family engine
// into the regexp2 dialect:
//
//   - a literal "{{" becomes `\{\{`
//   - a '{' that cannot open a {m,n} quantifier becomes `\{`
//   - (?P<name> becomes (?<name> with underscores removed from name
//
// Escapes and character classes are copied untouched. A pattern with none of
// the above constructs is returned byte-identical.
func Translate(src string) (string, error) {
	var b strings.Builder
	b.Grow(len(src) + 8)

	// group name as written in the output -> name as written in the source
	names := make(map[string]string)
	addName := func(out, orig string) error {
		if prev, dup := names[out]; dup {
			reason := "duplicate group name " + out
			if prev != orig {
				reason = "group names " + prev + " and " + orig + " collide as " + out
			}
			return &InvalidPatternError{Pattern: src, Reason: reason}
		}
		names[out] = orig
		return nil
	}

	inClass := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\\':
			j := escapeEnd(src, i)
			b.WriteString(src[i:j])
			i = j - 1

		case inClass:
			if c == ']' {
				inClass = false
			}
			b.WriteByte(c)

		case c == '[':
			inClass = true
			j := classBodyStart(src, i)
			b.WriteString(src[i:j])
			i = j - 1

		case c == '{' && i+1 < len(src) && src[i+1] == '{':
			b.WriteString(`\{\{`)
			i++

		case c == '{' && (i+1 >= len(src) || !isDigit(src[i+1])):
			b.WriteString(`\{`)

		case strings.HasPrefix(src[i:], "(?P<"):
			end := strings.IndexByte(src[i+4:], '>')
			if end < 0 {
				return "", &InvalidPatternError{Pattern: src, Reason: "unterminated group name"}
			}
			orig := src[i+4 : i+4+end]
			name := strings.ReplaceAll(orig, "_", "")
			if name == "" {
				return "", &InvalidPatternError{Pattern: src, Reason: "empty group name " + orig}
			}
			if err := addName(name, orig); err != nil {
				return "", err
			}
			b.WriteString("(?<")
			b.WriteString(name)
			b.WriteByte('>')
			i += 4 + end

		case c == '(' && isNativeNamedGroup(src[i:]):
			name, _, ok := namedGroupAt(src, i)
			if ok {
				if err := addName(name, name); err != nil {
					return "", err
				}
			}
			b.WriteByte(c)

		default:
			b.WriteByte(c)
		}
	}

	return b.String(), nil
}

// TranslateAndCompile translates src and compiles it with opts.
func TranslateAndCompile(src string, opts regexp2.RegexOptions) (*regexp2.Regexp, string, error) {
	translated, err := Translate(src)
	if err != nil {
		return nil, "", err
	}
	re, err := regexp2.Compile(translated, opts)
	if err != nil {
		return nil, translated, &InvalidPatternError{Pattern: src, Reason: "does not compile after translation", Err: err}
	}
	return re, translated, nil
}

// escapeEnd returns the index just past the escape sequence starting at i.
// Braced escapes (\p{..}, \P{..}, \x{..}) are consumed whole.
func escapeEnd(s string, i int) int {
	if i+1 >= len(s) {
		return len(s)
	}
	switch s[i+1] {
	case 'p', 'P', 'x':
		if i+2 < len(s) && s[i+2] == '{' {
			if end := strings.IndexByte(s[i+3:], '}'); end >= 0 {
				return i + 3 + end + 1
			}
			return len(s)
		}
	}
	return i + 2
}

// classBodyStart returns the index of the first class member that can close
// the class opened at i. A leading '^' and a leading ']' are literal.
func classBodyStart(s string, i int) int {
	j := i + 1
	if j < len(s) && s[j] == '^' {
		j++
	}
	if j < len(s) && s[j] == ']' {
		j++
	}
	return j
}

// isNativeNamedGroup reports whether s starts with (?<name> or (?'name'.
func isNativeNamedGroup(s string) bool {
	if strings.HasPrefix(s, "(?'") {
		return true
	}
	return strings.HasPrefix(s, "(?<") && !strings.HasPrefix(s, "(?<=") && !strings.HasPrefix(s, "(?<!")
}

// namedGroupAt parses the name of a named group opening at s[i]. It returns
// the name, the index just past the opener, and whether one was found.
func namedGroupAt(s string, i int) (string, int, bool) {
	rest := s[i:]
	var start int
	var closer byte
	switch {
	case strings.HasPrefix(rest, "(?P<"):
		start, closer = 4, '>'
	case strings.HasPrefix(rest, "(?'"):
		start, closer = 3, '\''
	case isNativeNamedGroup(rest):
		start, closer = 3, '>'
	default:
		return "", 0, false
	}
	end := strings.IndexByte(rest[start:], closer)
	if end < 0 {
		return "", 0, false
	}
	return rest[start : start+end], i + start + end + 1, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
