package crawler

import (
	"time"

	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
)

// Source is a registry entry the crawler is allowed to visit. It is owned by
// the registry and only read here.
type Source struct {
	ID                string        `json:"id" yaml:"id"`
	ProgramType       string        `json:"program_type" yaml:"program_type"`
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	AllowPaths        []string      `json:"allow_paths,omitempty" yaml:"allow_paths"`
	BlockPaths        []string      `json:"block_paths,omitempty" yaml:"block_paths"`
	Active            bool          `json:"active" yaml:"active"`
	RespectRobots     bool          `json:"respect_robots" yaml:"respect_robots"`
	MaxRequestsPerRun int           `json:"max_requests_per_run" yaml:"max_requests_per_run"`
	MinDelay          time.Duration `json:"min_delay" yaml:"min_delay"`
}

// FetchStatus classifies a fetch attempt.
type FetchStatus string

// Fetch outcomes.
const (
	FetchOK          FetchStatus = "OK"
	FetchNotModified FetchStatus = "NOT_MODIFIED"
	FetchBlocked     FetchStatus = "BLOCKED"
	FetchError       FetchStatus = "ERROR"
)

// Blocked reasons recorded on BLOCKED results.
const (
	BlockedHostBlacklisted  = "host_blacklisted"
	BlockedRobotsDisallowed = "robots_disallowed"
	BlockedBotBlock         = "bot_block"
	BlockedLoginWall        = "login_wall"
	BlockedHTTP403          = "http_403"
	BlockedHTTP429          = "http_429"
)

// FetchRequest describes one outbound page fetch.
type FetchRequest struct {
	URL           string
	CanonicalURL  string
	Timeout       time.Duration
	MinDelay      time.Duration
	MaxBytes      int64
	ETag          string
	LastModified  string
	RespectRobots bool
}

// FetchResult is the transient outcome of a fetch. It is never persisted as is.
type FetchResult struct {
	Status        FetchStatus
	FetchedURL    string
	HTTPStatus    int
	Elapsed       time.Duration
	ResponseBytes int64
	ETag          string
	LastModified  string
	Body          string
	BlockedReason string
	ErrorMessage  string
	LoginWall     bool
}

// Action names the workflow that issued a fetch.
type Action string

// Workflow actions.
const (
	ActionDiscover Action = "DISCOVER"
	ActionVerify   Action = "VERIFY"
)

// FetchLogEntry is one append-only audit row per fetch attempt.
type FetchLogEntry struct {
	RunID            string      `json:"run_id"`
	Action           Action      `json:"action"`
	Status           FetchStatus `json:"status"`
	ProgramType      string      `json:"program_type"`
	SourceID         string      `json:"source_id"`
	CanonicalURL     string      `json:"canonical_url"`
	FetchedURL       string      `json:"fetched_url"`
	HTTPStatus       int         `json:"http_status"`
	ElapsedMS        int64       `json:"elapsed_ms"`
	ResponseBytes    int64       `json:"response_bytes"`
	ETag             string      `json:"etag,omitempty"`
	PageLastModified string      `json:"page_last_modified,omitempty"`
	ContentHash      string      `json:"content_hash,omitempty"`
	BlockedReason    string      `json:"blocked_reason,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// UpsertResult reports what an upsert replaced.
type UpsertResult struct {
	Created        bool
	PreviousStatus opportunity.Status
}

// VerificationUpdate is the timestamp/freshness/status-only write used when
// page content is unchanged. Empty validators keep the stored values.
type VerificationUpdate struct {
	VerifiedAt       time.Time
	FreshnessScore   int
	Status           opportunity.Status
	StatusReason     string
	ETag             string
	PageLastModified string
}

// VerifyFilter selects rows for a Verify pass. Rows are returned oldest
// last_verified_at first.
type VerifyFilter struct {
	ProgramType string
	Statuses    []opportunity.Status
	Limit       int
}

// StatusChange is published whenever an opportunity's status changes.
type StatusChange struct {
	CanonicalURL string             `json:"canonical_url"`
	ProgramType  string             `json:"program_type"`
	SourceID     string             `json:"source_id,omitempty"`
	From         opportunity.Status `json:"from,omitempty"`
	To           opportunity.Status `json:"to"`
	Reason       string             `json:"reason,omitempty"`
	At           time.Time          `json:"at"`
	RunID        string             `json:"run_id,omitempty"`
}

// DiscoverSummary is the run-level result of Discover.
type DiscoverSummary struct {
	RunID       string `json:"run_id"`
	Sources     int64  `json:"sources"`
	Visited     int64  `json:"visited"`
	Accepted    int64  `json:"accepted"`
	Blocked     int64  `json:"blocked"`
	Expired     int64  `json:"expired"`
	NeedsReview int64  `json:"needs_review"`
	Errors      int64  `json:"errors"`
}

// VerifySummary is the run-level result of Verify.
type VerifySummary struct {
	RunID       string `json:"run_id"`
	Checked     int64  `json:"checked"`
	NotModified int64  `json:"not_modified"`
	Unchanged   int64  `json:"unchanged"`
	Changed     int64  `json:"changed"`
	Blocked     int64  `json:"blocked"`
	Expired     int64  `json:"expired"`
	Errors      int64  `json:"errors"`
}

// ReapSummary is the run-level result of the Reaper.
type ReapSummary struct {
	RunID   string `json:"run_id"`
	Expired int64  `json:"expired"`
}
