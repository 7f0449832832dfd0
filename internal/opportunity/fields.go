package opportunity

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// UnknownInstitution is used when no institution can be derived.
const UnknownInstitution = "TBA"

var startTermPattern = regexp.MustCompile(`(?i)\b(fall|winter|summer)\s+(\d{4})\b`)

// StartTermStrategy finds terms such as "Fall 2026".
type StartTermStrategy struct{}

// Name implements Strategy.
func (StartTermStrategy) Name() string { return "start_term" }

// Extract implements Strategy.
func (StartTermStrategy) Extract(in Input) Finding[string] {
	m := startTermPattern.FindStringSubmatchIndex(in.Text)
	if m == nil {
		return notFound[string]()
	}
	season := strings.ToLower(in.Text[m[2]:m[3]])
	season = strings.ToUpper(season[:1]) + season[1:]
	return Finding[string]{
		Value:      season + " " + in.Text[m[4]:m[5]],
		Found:      true,
		Confidence: ConfidenceMedium,
		Evidence:   snippet(in.Text, m[0], m[1]),
	}
}

// ApplicationURLStrategy picks the anchor most likely to lead to an
// application form.
type ApplicationURLStrategy struct{}

// Name implements Strategy.
func (ApplicationURLStrategy) Name() string { return "application_url" }

// Extract implements Strategy.
func (ApplicationURLStrategy) Extract(in Input) Finding[string] {
	for _, link := range in.Links {
		text := strings.ToLower(link.Text)
		if strings.Contains(text, "apply") || strings.Contains(text, "application") {
			return Finding[string]{
				Value:      link.URL,
				Found:      true,
				Confidence: ConfidenceMedium,
				Evidence:   link.Text,
			}
		}
	}
	if len(in.Links) > 0 {
		first := in.Links[0]
		return Finding[string]{
			Value:      first.URL,
			Found:      true,
			Confidence: ConfidenceLow,
			Evidence:   first.Text,
		}
	}
	return notFound[string]()
}

// InstitutionStrategy derives an institution label from the registrable
// domain of the canonical URL, e.g. "https://grad.mit.edu/x" gives "MIT".
type InstitutionStrategy struct{}

// Name implements Strategy.
func (InstitutionStrategy) Name() string { return "institution" }

// Extract implements Strategy.
func (InstitutionStrategy) Extract(in Input) Finding[string] {
	u, err := url.Parse(in.CanonicalURL)
	if err != nil || u.Hostname() == "" {
		return Finding[string]{Value: UnknownInstitution, Confidence: ConfidenceLow}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return Finding[string]{Value: UnknownInstitution, Confidence: ConfidenceLow}
	}
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		return Finding[string]{Value: UnknownInstitution, Confidence: ConfidenceLow}
	}
	return Finding[string]{
		Value:      strings.ToUpper(label),
		Found:      true,
		Confidence: ConfidenceMedium,
		Evidence:   domain,
	}
}
