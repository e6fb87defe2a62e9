// Package transcript repairs recognition errors on the vocabulary a
// deployment cares about, typically the names of institutions and payment
// methods scammers invoke. Both capture engines feed their final utterances
// through a [Corrector] before the conversation sees them.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/scamguard/internal/transcript/phonetic"
)

// Correction records one substitution.
type Correction struct {
	Original  string
	Corrected string
	Score     float64
}

// Matcher resolves a phrase to the most similar keyword of the same word
// count. Implementations must be safe for concurrent use.
type Matcher interface {
	Match(phrase string, keywords []string) (keyword string, score float64, matched bool)
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// Corrector rewrites utterances so that misheard keywords take their
// canonical spelling. It is read-only after construction.
type Corrector struct {
	matcher  Matcher
	byWords  map[int][]string
	maxWords int
}

// NewCorrector returns a Corrector for keywords. Blank keywords are ignored.
func NewCorrector(keywords []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher: phonetic.New(),
		byWords: make(map[int][]string),
	}
	for _, o := range opts {
		o(c)
	}
	for _, kw := range keywords {
		n := len(strings.Fields(kw))
		if n == 0 {
			continue
		}
		c.byWords[n] = append(c.byWords[n], strings.TrimSpace(kw))
		c.maxWords = max(c.maxWords, n)
	}
	return c
}

// Correct returns text with every recognised keyword in its canonical form,
// together with the substitutions made. Longer keywords win over shorter ones
// starting at the same word. Punctuation around a replaced phrase is kept.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || c.maxWords == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
		changed     bool
	)
	for i := 0; i < len(tokens); {
		n, replacement, corr, ok := c.matchAt(tokens, i)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, replacement)
		if corr != nil {
			corrections = append(corrections, *corr)
			changed = true
		}
		i += n
	}
	if !changed {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries windows starting at tokens[i], longest first. corr is nil
// when the window already reads as the keyword.
func (c *Corrector) matchAt(tokens []string, i int) (n int, replacement string, corr *Correction, ok bool) {
	for n = min(c.maxWords, len(tokens)-i); n >= 1; n-- {
		keywords := c.byWords[n]
		if len(keywords) == 0 {
			continue
		}
		window := strings.Join(tokens[i:i+n], " ")
		prefix, core, suffix := splitPunct(window)
		if core == "" {
			continue
		}
		kw, score, matched := c.matcher.Match(core, keywords)
		if !matched {
			continue
		}
		if kw == core {
			return n, window, nil, true
		}
		return n, prefix + kw + suffix, &Correction{Original: core, Corrected: kw, Score: score}, true
	}
	return 0, "", nil, false
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (prefix, core, suffix string) {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(s, isWord)
	if start < 0 {
		return s, "", ""
	}
	end := strings.LastIndexFunc(s, isWord)
	_, size := utf8.DecodeRuneInString(s[end:])
	end += size
	return s[:start], s[start:end], s[end:]
}
