// Package opportunity builds confidence-scored opportunity records from page
// content and decides their publication status.
package opportunity

import "time"

// Confidence grades how much a heuristically extracted field can be trusted.
type Confidence string

// Confidence levels, strongest first.
const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// FundingType classifies how a position is financed.
type FundingType string

// Funding classifications.
const (
	FundingFunded            FundingType = "FUNDED"
	FundingPartiallyFunded   FundingType = "PARTIALLY_FUNDED"
	FundingExternalFundingOK FundingType = "EXTERNAL_FUNDING_OK"
	FundingSelfFundedOK      FundingType = "SELF_FUNDED_OK"
	FundingUnknown           FundingType = "UNKNOWN"
)

// Eligibility is a tri-state answer for international applicants.
type Eligibility string

// Eligibility values.
const (
	EligibilityYes     Eligibility = "YES"
	EligibilityNo      Eligibility = "NO"
	EligibilityUnknown Eligibility = "UNKNOWN"
)

// Status is the publication state of an opportunity.
type Status string

// Publication states.
const (
	StatusActive      Status = "ACTIVE"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusBlocked     Status = "BLOCKED"
	StatusExpired     Status = "EXPIRED"
)

// Status reasons written alongside non-active states.
const (
	ReasonBlocked               = "blocked"
	ReasonLoginWall             = "login_wall"
	ReasonMissingApplicationURL = "missing_application_url"
	ReasonExpiredDeadline       = "expired_deadline"
	ReasonDeadlinePassed        = "deadline_passed"
)

// Valid reports whether s is one of the known publication states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusNeedsReview, StatusBlocked, StatusExpired:
		return true
	default:
		return false
	}
}

// Key is the upsert identity of an opportunity.
type Key struct {
	CanonicalURL string
	ProgramType  string
}

// Opportunity is the crawler's primary output record.
type Opportunity struct {
	CanonicalURL string `json:"canonical_url"`
	ProgramType  string `json:"program_type"`
	SourceID     string `json:"source_id"`
	SourceURL    string `json:"source_url"`

	Institution string `json:"institution"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`

	FundingType       FundingType `json:"funding_type"`
	FundingConfidence Confidence  `json:"funding_confidence"`
	FundingEvidence   string      `json:"funding_evidence,omitempty"`

	International           Eligibility `json:"international"`
	InternationalConfidence Confidence  `json:"international_confidence"`
	InternationalEvidence   string      `json:"international_evidence,omitempty"`

	StartTerm string `json:"start_term,omitempty"`

	DeadlineDate       *time.Time `json:"deadline_date,omitempty"`
	DeadlineConfidence Confidence `json:"deadline_confidence"`
	DeadlineEvidence   string     `json:"deadline_evidence,omitempty"`

	ApplicationURL string `json:"application_url,omitempty"`

	LastVerifiedAt time.Time `json:"last_verified_at"`
	FreshnessScore int       `json:"freshness_score"`
	Status         Status    `json:"status"`
	StatusReason   string    `json:"status_reason,omitempty"`

	ContentHash      string `json:"content_hash"`
	PageLastModified string `json:"page_last_modified,omitempty"`
	ETag             string `json:"etag,omitempty"`
}

// Key returns the upsert identity of o.
func (o Opportunity) Key() Key {
	return Key{CanonicalURL: o.CanonicalURL, ProgramType: o.ProgramType}
}
