// Package moderation masks configured words in message content.
package moderation

import (
	"sort"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Filter masks every occurrence of its word list, matching case-insensitively
// and across punctuation or spacing inserted between letters.
type Filter struct {
	machine *goahocorasick.Machine
	mask    rune
}

// NewFilter builds the automaton for words. An empty list yields a filter that
// returns content unchanged.
func NewFilter(words []string, mask rune) (*Filter, error) {
	seen := make(map[string]struct{}, len(words))
	keys := make([]string, 0, len(words))
	for _, w := range words {
		folded, _ := fold(strings.TrimSpace(w))
		key := string(folded)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	// the double-array builder expects sorted, unique keys
	sort.Strings(keys)
	patterns := make([][]rune, len(keys))
	for i, k := range keys {
		patterns[i] = []rune(k)
	}

	f := &Filter{mask: mask}
	if len(patterns) == 0 {
		return f, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	f.machine = m
	return f, nil
}

// Mask replaces the characters of each match with the mask rune. Skipped
// separators inside a match are masked too.
func (f *Filter) Mask(content string) string {
	if f == nil || f.machine == nil {
		return content
	}

	folded, positions := fold(content)
	if len(folded) == 0 {
		return content
	}
	hits := f.machine.MultiPatternSearch(folded, false)
	if len(hits) == 0 {
		return content
	}

	out := []rune(content)
	for _, hit := range hits {
		end := hit.Pos + len(hit.Word)
		if hit.Pos < 0 || end > len(positions) {
			continue
		}
		for i := positions[hit.Pos]; i <= positions[end-1]; i++ {
			out[i] = f.mask
		}
	}
	return string(out)
}

// fold lowercases s, undoes common digit/symbol substitutions and drops
// separators. positions maps each folded rune back to its index in []rune(s).
func fold(s string) (folded []rune, positions []int) {
	for i, r := range []rune(s) {
		r = unleet(r)
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		folded = append(folded, unicode.ToLower(r))
		positions = append(positions, i)
	}
	return folded, positions
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	case '7':
		return 't'
	}
	return r
}
