package matcher

import (
	"math"
	"sort"
)

// ShannonEntropy returns the base-2 Shannon entropy of s over its rune
// frequencies. The empty string has entropy 0.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := make(map[rune]int)
	n := 0
	for _, r := range s {
		freq[r]++
		n++
	}

	// sum in a fixed order so permutations of s give bit-identical results
	counts := make([]int, 0, len(freq))
	for _, c := range freq {
		counts = append(counts, c)
	}
	sort.Ints(counts)

	var entropy float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		entropy -= p * (math.Log(p) / math.Ln2)
	}
	return entropy
}
