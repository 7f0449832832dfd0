package opportunity

import (
	"regexp"
	"strings"
	"time"
)

// deadlineWindow is how far past a keyword the date search looks.
const deadlineWindow = 120

var (
	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

	// Loose date shapes tried inside a keyword window, most specific first.
	looseDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?\s+\d{4}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
		regexp.MustCompile(`\b\d{4}/\d{1,2}/\d{1,2}\b`),
	}

	ordinalSuffix = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)

	looseLayouts = []string{
		"January 2 2006",
		"Jan 2 2006",
		"2 January 2006",
		"2 Jan 2006",
		"1/2/2006",
		"2006/1/2",
	}
)

// DeadlineKeywords introduce a deadline in running text.
var DeadlineKeywords = []string{
	"application deadline",
	"deadline",
	"apply by",
	"applications close",
	"applications due",
	"closing date",
	"due date",
	"due by",
	"submit by",
}

// DeadlineStrategy prefers an explicit ISO date anywhere in the text (HIGH),
// then a loosely formatted date near a deadline keyword (MEDIUM).
type DeadlineStrategy struct{}

// Name implements Strategy.
func (DeadlineStrategy) Name() string { return "deadline" }

// Extract implements Strategy.
func (DeadlineStrategy) Extract(in Input) Finding[time.Time] {
	text := in.Text
	for _, loc := range isoDatePattern.FindAllStringIndex(text, -1) {
		d, err := time.Parse("2006-01-02", text[loc[0]:loc[1]])
		if err != nil {
			continue
		}
		return Finding[time.Time]{
			Value:      d,
			Found:      true,
			Confidence: ConfidenceHigh,
			Evidence:   snippet(text, loc[0], loc[1]),
		}
	}

	lower := strings.ToLower(text)
	source := evidenceSource(text, lower)
	for _, kw := range DeadlineKeywords {
		offset := 0
		for {
			i := strings.Index(lower[offset:], kw)
			if i < 0 {
				break
			}
			start := offset + i
			end := min(len(lower), start+len(kw)+deadlineWindow)
			if d, ok := parseLooseDate(lower[start:end]); ok {
				return Finding[time.Time]{
					Value:      d,
					Found:      true,
					Confidence: ConfidenceMedium,
					Evidence:   window(source, start, end),
				}
			}
			offset = start + len(kw)
		}
	}
	return notFound[time.Time]()
}

// parseLooseDate finds and parses the first recognizable date in window.
func parseLooseDate(window string) (time.Time, bool) {
	for _, pattern := range looseDatePatterns {
		for _, match := range pattern.FindAllString(window, -1) {
			if d, ok := parseDateString(match); ok {
				return d, true
			}
		}
	}
	return time.Time{}, false
}

func parseDateString(raw string) (time.Time, bool) {
	cleaned := ordinalSuffix.ReplaceAllString(raw, "$1")
	cleaned = strings.NewReplacer(",", " ", ".", " ").Replace(cleaned)
	fields := strings.Fields(cleaned)
	kept := fields[:0]
	for _, f := range fields {
		switch {
		case strings.EqualFold(f, "of"):
			continue
		case strings.EqualFold(f, "sept"):
			// Go layouts only know the three-letter abbreviation.
			f = "Sep"
		}
		kept = append(kept, f)
	}
	cleaned = titleMonth(strings.Join(kept, " "))
	for _, layout := range looseLayouts {
		if d, err := time.Parse(layout, cleaned); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// titleMonth capitalizes alphabetic words so month names match Go layouts.
func titleMonth(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if f == "" || f[0] < 'a' || f[0] > 'z' {
			continue
		}
		fields[i] = strings.ToUpper(f[:1]) + strings.ToLower(f[1:])
	}
	return strings.Join(fields, " ")
}
