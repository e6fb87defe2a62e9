package transcript_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/scamguard/internal/transcript"
)

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector([]string{"IRS", "Medicare", "gift card", "  "})

	tests := []struct {
		name string
		text string
		want string
		corr []transcript.Correction
	}{
		{
			name: "keeps punctuation",
			text: "this is the irs.",
			want: "this is the IRS.",
			corr: []transcript.Correction{{Original: "irs", Corrected: "IRS", Score: 1}},
		},
		{
			name: "multi word keyword",
			text: "please buy a gift cart today",
			want: "please buy a gift card today",
		},
		{
			name: "wrapped in brackets",
			text: "(medicair)",
			want: "(Medicare)",
		},
		{
			name: "already canonical",
			text: "the IRS called",
			want: "the IRS called",
		},
		{
			name: "nothing to fix",
			text: "good morning how are you",
			want: "good morning how are you",
		},
		{
			name: "empty",
			text: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, corr := c.Correct(tt.text)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.text, got, tt.want)
			}
			if tt.want == tt.text && corr != nil {
				t.Errorf("Correct(%q) reported corrections %v for unchanged text", tt.text, corr)
			}
			if tt.corr != nil && !slices.Equal(corr, tt.corr) {
				t.Errorf("Correct(%q) corrections = %v, want %v", tt.text, corr, tt.corr)
			}
		})
	}
}

type fixedMatcher struct{ calls []string }

func (m *fixedMatcher) Match(phrase string, keywords []string) (string, float64, bool) {
	m.calls = append(m.calls, phrase)
	if phrase == "scam" {
		return keywords[0], 0.5, true
	}
	return phrase, 0, false
}

func TestCorrector_WithMatcher(t *testing.T) {
	t.Parallel()

	m := &fixedMatcher{}
	c := transcript.NewCorrector([]string{"SCAM"}, transcript.WithMatcher(m))

	got, corr := c.Correct("no scam here")
	if got != "no SCAM here" {
		t.Errorf("Correct = %q", got)
	}
	if len(corr) != 1 || corr[0].Score != 0.5 {
		t.Errorf("corrections = %v", corr)
	}
	if want := []string{"no", "scam", "here"}; !slices.Equal(m.calls, want) {
		t.Errorf("matcher saw %v, want %v", m.calls, want)
	}
}

func TestCorrector_NoKeywords(t *testing.T) {
	t.Parallel()

	got, corr := transcript.NewCorrector(nil).Correct("this is the irs")
	if got != "this is the irs" || corr != nil {
		t.Errorf("Correct = %q, %v", got, corr)
	}
}
