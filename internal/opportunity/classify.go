package opportunity

import "strings"

// FundingRule maps keyword phrases to a funding classification.
type FundingRule struct {
	Type     FundingType
	Keywords []string
}

// DefaultFundingRules are evaluated in order; the first rule with a matching
// keyword wins. More specific phrases come before the bare "funded".
func DefaultFundingRules() []FundingRule {
	return []FundingRule{
		{Type: FundingPartiallyFunded, Keywords: []string{
			"partially funded", "partial funding", "partial scholarship", "partial tuition",
		}},
		{Type: FundingSelfFundedOK, Keywords: []string{
			"self-funded", "self funded", "self-financed", "self-financing", "self-supporting",
		}},
		{Type: FundingExternalFundingOK, Keywords: []string{
			"external funding", "externally funded", "own funding", "sponsored students", "government scholarship holders",
		}},
		{Type: FundingFunded, Keywords: []string{
			"fully funded", "full funding", "full scholarship", "tuition waiver", "stipend", "funded",
		}},
	}
}

// FundingStrategy classifies funding by keyword.
type FundingStrategy struct {
	Rules []FundingRule
}

// Name implements Strategy.
func (FundingStrategy) Name() string { return "funding_type" }

// Extract implements Strategy.
func (s FundingStrategy) Extract(in Input) Finding[FundingType] {
	lower := strings.ToLower(in.Text)
	source := evidenceSource(in.Text, lower)
	for _, rule := range s.Rules {
		if i, kw := indexAny(lower, rule.Keywords); i >= 0 {
			return Finding[FundingType]{
				Value:      rule.Type,
				Found:      true,
				Confidence: ConfidenceMedium,
				Evidence:   snippet(source, i, i+len(kw)),
			}
		}
	}
	return Finding[FundingType]{Value: FundingUnknown, Confidence: ConfidenceLow}
}

var (
	citizensOnlyPhrases = []string{
		"not open to international",
		"international students are not eligible",
		"international applicants are not eligible",
		"citizens only",
		"citizens and permanent residents only",
		"must be a citizen",
		"must be a u.s. citizen",
		"must be a us citizen",
		"restricted to citizens",
		"home students only",
		"domestic students only",
		"only open to domestic",
	}
	welcomingPhrases = []string{
		"international students are welcome",
		"international applicants are welcome",
		"international students are eligible",
		"international applicants are eligible",
		"open to all nationalities",
		"regardless of nationality",
		"open to international",
		"international students",
		"international applicants",
	}
)

// InternationalStrategy detects whether international applicants may apply.
// Restrictive phrases are checked first since several contain a welcoming one.
type InternationalStrategy struct{}

// Name implements Strategy.
func (InternationalStrategy) Name() string { return "international" }

// Extract implements Strategy.
func (InternationalStrategy) Extract(in Input) Finding[Eligibility] {
	lower := strings.ToLower(in.Text)
	source := evidenceSource(in.Text, lower)
	if i, kw := indexAny(lower, citizensOnlyPhrases); i >= 0 {
		return Finding[Eligibility]{
			Value:      EligibilityNo,
			Found:      true,
			Confidence: ConfidenceMedium,
			Evidence:   snippet(source, i, i+len(kw)),
		}
	}
	if i, kw := indexAny(lower, welcomingPhrases); i >= 0 {
		return Finding[Eligibility]{
			Value:      EligibilityYes,
			Found:      true,
			Confidence: ConfidenceMedium,
			Evidence:   snippet(source, i, i+len(kw)),
		}
	}
	return Finding[Eligibility]{Value: EligibilityUnknown, Confidence: ConfidenceLow}
}
