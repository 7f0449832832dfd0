package opportunity

import (
	"strings"
	"time"

	"github.com/JakeFAU/opportunity-crawler/internal/extract"
)

// evidenceRadius is how many characters of context surround a match.
const evidenceRadius = 60

// Input is the page view handed to every field strategy.
type Input struct {
	ProgramType  string
	CanonicalURL string
	SourceURL    string
	Text         string
	H1           string
	Links        []extract.Link
}

// Finding is one strategy's answer: a value, how sure it is, and the snippet
// that justified it. Found is false when the strategy produced no value.
type Finding[T any] struct {
	Value      T
	Found      bool
	Confidence Confidence
	Evidence   string
}

// Strategy extracts a single field from a page.
type Strategy[T any] interface {
	Name() string
	Extract(in Input) Finding[T]
}

// Strategies is the set of field extractors the Builder orchestrates.
type Strategies struct {
	Deadline       Strategy[time.Time]
	Funding        Strategy[FundingType]
	International  Strategy[Eligibility]
	StartTerm      Strategy[string]
	ApplicationURL Strategy[string]
	Institution    Strategy[string]
}

// DefaultStrategies returns the keyword and pattern heuristics.
func DefaultStrategies() Strategies {
	return Strategies{
		Deadline:       DeadlineStrategy{},
		Funding:        FundingStrategy{Rules: DefaultFundingRules()},
		International:  InternationalStrategy{},
		StartTerm:      StartTermStrategy{},
		ApplicationURL: ApplicationURLStrategy{},
		Institution:    InstitutionStrategy{},
	}
}

func notFound[T any]() Finding[T] {
	return Finding[T]{Confidence: ConfidenceLow}
}

// snippet returns normalized text around [start,end) padded by evidenceRadius.
func snippet(text string, start, end int) string {
	return window(text, start-evidenceRadius, end+evidenceRadius)
}

// window returns normalized text[from:to], clamped to the string and widened
// to UTF-8 rune boundaries.
func window(text string, from, to int) string {
	from = max(0, from)
	to = min(len(text), to)
	for from > 0 && !utf8Start(text[from]) {
		from--
	}
	for to < len(text) && !utf8Start(text[to]) {
		to++
	}
	if from >= to {
		return ""
	}
	return extract.NormalizeWhitespace(text[from:to])
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// indexAny returns the earliest position of any phrase in lower, and the phrase.
func indexAny(lower string, phrases []string) (int, string) {
	best, which := -1, ""
	for _, p := range phrases {
		if i := strings.Index(lower, p); i >= 0 && (best < 0 || i < best) {
			best, which = i, p
		}
	}
	return best, which
}

// evidenceSource picks the text to cut evidence from. Lowercasing can change
// byte offsets for some scripts, in which case offsets only apply to lower.
func evidenceSource(text, lower string) string {
	if len(text) == len(lower) {
		return text
	}
	return lower
}
