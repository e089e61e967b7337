package wake

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Matcher finds and removes wake phrases in recognized text.
type Matcher struct {
	phrases []string // lowercased, longest first
}

// lower is rebuilt per call because a Caser must not be shared between
// goroutines.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// NewMatcher builds a Matcher. Blank phrases are dropped; longer phrases are
// tried first so "hey vitalis" is removed whole rather than leaving "hey".
func NewMatcher(phrases []string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]bool)
	for _, p := range phrases {
		p = strings.Join(strings.Fields(lower(p)), " ")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		m.phrases = append(m.phrases, p)
	}
	sort.SliceStable(m.phrases, func(i, j int) bool {
		return len(m.phrases[i]) > len(m.phrases[j])
	})
	return m
}

// Phrases returns the normalised phrases, longest first.
func (m *Matcher) Phrases() []string {
	out := make([]string, len(m.phrases))
	copy(out, m.phrases)
	return out
}

// Normalize lowercases text and trims surrounding whitespace, which is the
// form both matching and dispatch work on.
func (m *Matcher) Normalize(text string) string {
	return strings.TrimSpace(lower(text))
}

// Match reports the first phrase (longest first) contained in normalized text.
func (m *Matcher) Match(normalized string) (string, bool) {
	for _, p := range m.phrases {
		if strings.Contains(normalized, p) {
			return p, true
		}
	}
	return "", false
}

// Strip removes every wake phrase from normalized text and tidies what is
// left, e.g. "hey vitalis, open labs" -> "open labs".
func (m *Matcher) Strip(normalized string) string {
	for _, p := range m.phrases {
		normalized = strings.ReplaceAll(normalized, p, " ")
	}
	normalized = strings.Join(strings.Fields(normalized), " ")
	return strings.Trim(normalized, ",.!? ")
}
