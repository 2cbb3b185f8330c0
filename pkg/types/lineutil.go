package types

// LineOfRune returns the 1-based line containing the rune at runeOffset.
// regexp2 reports match positions in runes, not bytes.
func LineOfRune(content string, runeOffset int) int {
	line := 1
	i := 0
	for _, r := range content {
		if i >= runeOffset {
			break
		}
		if r == '\n' {
			line++
		}
		i++
	}
	return line
}
