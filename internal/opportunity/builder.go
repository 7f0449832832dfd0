package opportunity

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/opportunity-crawler/internal/extract"
	"github.com/JakeFAU/opportunity-crawler/internal/hash/sha256"
)

const (
	titleFallbackWords = 12
	summaryWords       = 15
)

// BuildInput carries everything needed to turn one fetched page into a draft.
type BuildInput struct {
	ProgramType  string
	CanonicalURL string
	SourceURL    string
	HTML         string
	ETag         string
	LastModified string
}

// Builder orchestrates the field strategies over a parsed page. It is
// stateless apart from its configuration and safe for concurrent use.
type Builder struct {
	strategies Strategies
	hasher     *sha256.Hasher
}

// NewBuilder returns a Builder. Zero-valued strategies fall back to defaults
// and a nil hasher uses the default content-hash limit.
func NewBuilder(strategies Strategies, hasher *sha256.Hasher) *Builder {
	defaults := DefaultStrategies()
	if strategies.Deadline == nil {
		strategies.Deadline = defaults.Deadline
	}
	if strategies.Funding == nil {
		strategies.Funding = defaults.Funding
	}
	if strategies.International == nil {
		strategies.International = defaults.International
	}
	if strategies.StartTerm == nil {
		strategies.StartTerm = defaults.StartTerm
	}
	if strategies.ApplicationURL == nil {
		strategies.ApplicationURL = defaults.ApplicationURL
	}
	if strategies.Institution == nil {
		strategies.Institution = defaults.Institution
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	return &Builder{strategies: strategies, hasher: hasher}
}

// Build parses the page and returns a draft opportunity. Status, freshness,
// and the verification timestamp are left for the caller and the gate.
func (b *Builder) Build(in BuildInput) (Opportunity, error) {
	base := in.CanonicalURL
	if base == "" {
		base = in.SourceURL
	}
	page, err := extract.Parse(in.HTML, base)
	if err != nil {
		return Opportunity{}, fmt.Errorf("build %s: %w", in.CanonicalURL, err)
	}
	return b.FromPage(in, page), nil
}

// FromPage assembles an opportunity from an already parsed page.
func (b *Builder) FromPage(in BuildInput, page extract.Page) Opportunity {
	sin := Input{
		ProgramType:  in.ProgramType,
		CanonicalURL: in.CanonicalURL,
		SourceURL:    in.SourceURL,
		Text:         page.Text,
		H1:           page.H1,
		Links:        page.Links,
	}

	deadline := b.strategies.Deadline.Extract(sin)
	funding := b.strategies.Funding.Extract(sin)
	international := b.strategies.International.Extract(sin)
	term := b.strategies.StartTerm.Extract(sin)
	apply := b.strategies.ApplicationURL.Extract(sin)
	institution := b.strategies.Institution.Extract(sin)

	opp := Opportunity{
		CanonicalURL: in.CanonicalURL,
		ProgramType:  in.ProgramType,
		SourceURL:    in.SourceURL,

		Institution: institution.Value,
		Title:       title(page),
		Summary:     firstWords(page.Text, summaryWords),

		FundingType:       funding.Value,
		FundingConfidence: funding.Confidence,
		FundingEvidence:   funding.Evidence,

		International:           international.Value,
		InternationalConfidence: international.Confidence,
		InternationalEvidence:   international.Evidence,

		DeadlineConfidence: deadline.Confidence,
		DeadlineEvidence:   deadline.Evidence,

		ContentHash:      b.hasher.HashText(page.Text),
		PageLastModified: in.LastModified,
		ETag:             in.ETag,
	}
	if opp.Institution == "" {
		opp.Institution = UnknownInstitution
	}
	if opp.FundingType == "" {
		opp.FundingType = FundingUnknown
	}
	if opp.International == "" {
		opp.International = EligibilityUnknown
	}
	if term.Found {
		opp.StartTerm = term.Value
	}
	if deadline.Found {
		d := deadline.Value.UTC()
		opp.DeadlineDate = &d
	}
	if apply.Found {
		opp.ApplicationURL = apply.Value
	}
	return opp
}

// BuildFromHTML builds a draft with the default strategies.
func BuildFromHTML(programType, canonicalURL, sourceURL, html, etag, lastModified string) (Opportunity, error) {
	return NewBuilder(Strategies{}, nil).Build(BuildInput{
		ProgramType:  programType,
		CanonicalURL: canonicalURL,
		SourceURL:    sourceURL,
		HTML:         html,
		ETag:         etag,
		LastModified: lastModified,
	})
}

func title(page extract.Page) string {
	if page.H1 != "" {
		return page.H1
	}
	if t := firstWords(page.Text, titleFallbackWords); t != "" {
		return t
	}
	return page.Title
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
