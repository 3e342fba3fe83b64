package triage

import (
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// Verdict is the authenticity label a post receives from its comments.
type Verdict string

const (
	Real      Verdict = "Real"
	Fake      Verdict = "Fake"
	Uncertain Verdict = "Uncertain"
)

// Default keyword sets. Matching is case-insensitive substring containment.
var (
	RealKeywords = []string{"real", "authentic", "legit", "genuine", "verified"}
	FakeKeywords = []string{"fake", "replica", "counterfeit", "unauthentic", "not real"}
)

// Result holds the outcome of classifying one post's comments.
type Result struct {
	Verdict     Verdict
	RealMatches int
	FakeMatches int
	Comments    int
}

// Matcher counts comments that mention either keyword set.
type Matcher struct {
	real *ahocorasick.Matcher
	fake *ahocorasick.Matcher
}

var defaultMatcher = NewMatcher(RealKeywords, FakeKeywords)

// NewMatcher builds a matcher from custom keyword lists. Keywords are
// lowercased; empty entries are ignored.
func NewMatcher(realKeywords, fakeKeywords []string) *Matcher {
	return &Matcher{
		real: build(realKeywords),
		fake: build(fakeKeywords),
	}
}

func build(keywords []string) *ahocorasick.Matcher {
	var normalized []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			normalized = append(normalized, kw)
		}
	}
	if len(normalized) == 0 {
		return nil
	}
	return ahocorasick.NewStringMatcher(normalized)
}

// Classify labels comments with the default keyword sets.
func Classify(comments []string) Result {
	return defaultMatcher.Classify(comments)
}

// Classify counts, per side, how many comments contain at least one keyword
// of that side and compares the two counts. A single comment can count for
// both sides ("not real" contains "real").
func (m *Matcher) Classify(comments []string) Result {
	r := Result{Comments: len(comments)}
	for _, c := range comments {
		text := []byte(strings.ToLower(c))
		if contains(m.real, text) {
			r.RealMatches++
		}
		if contains(m.fake, text) {
			r.FakeMatches++
		}
	}

	switch {
	case r.RealMatches > r.FakeMatches:
		r.Verdict = Real
	case r.FakeMatches > r.RealMatches:
		r.Verdict = Fake
	default:
		r.Verdict = Uncertain
	}
	return r
}

func contains(m *ahocorasick.Matcher, text []byte) bool {
	if m == nil {
		return false
	}
	return len(m.MatchThreadSafe(text)) > 0
}
