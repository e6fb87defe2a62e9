// Package phonetic matches spoken phrases against a keyword list using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// A phrase matches a keyword phonetically when both have the same number of
// words and every word pair shares a Double Metaphone code. Phonetic
// candidates are accepted from a lower similarity score than candidates that
// only look alike on paper.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// without phonetic agreement. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the keyword most similar to phrase. Keywords with a different
// word count than phrase are never considered. When matched is false,
// keyword is phrase unchanged and score is 0.
func (m *Matcher) Match(phrase string, keywords []string) (keyword string, score float64, matched bool) {
	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	if len(phraseTokens) == 0 || len(keywords) == 0 {
		return phrase, 0, false
	}
	phraseCodes := tokenCodes(phraseTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, kw := range keywords {
		kwLower := strings.ToLower(strings.TrimSpace(kw))
		kwTokens := strings.Fields(kwLower)
		if len(kwTokens) != len(phraseTokens) {
			continue
		}

		phonetic := codesAlign(phraseCodes, tokenCodes(kwTokens))
		s := similarity(phraseTokens, kwTokens, phraseLower, kwLower)

		switch {
		case phonetic && s >= m.phoneticThreshold:
			if !bestPhonetic || s > bestScore {
				best, bestScore, bestPhonetic = kw, s, true
			}
		case !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore:
			best, bestScore = kw, s
		}
	}

	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// tokenCodes returns the Double Metaphone codes of every token. Empty codes
// are dropped.
func tokenCodes(tokens []string) []map[string]struct{} {
	out := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		codes := make(map[string]struct{}, 2)
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
		out[i] = codes
	}
	return out
}

// codesAlign reports whether every token of a shares a code with the token of
// b at the same position.
func codesAlign(a, b []map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !overlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the better Jaro-Winkler score of the full strings and of the
// strings with spaces removed ("gift card" vs "giftcard").
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
