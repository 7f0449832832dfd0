package opportunity

import (
	"math"
	"time"
)

// GateInput is the set of signals the safety gate decides on.
type GateInput struct {
	Blocked            bool
	LoginWall          bool
	ApplicationURL     string
	DeadlineDate       *time.Time
	DeadlineConfidence Confidence
	Today              time.Time
}

// Decision is the gate's verdict.
type Decision struct {
	Status Status
	Reason string
}

// Gate decides publication status. Rules are evaluated in priority order and
// the first match wins; a LOW confidence deadline never expires a listing.
func Gate(in GateInput) Decision {
	switch {
	case in.Blocked:
		return Decision{Status: StatusBlocked, Reason: ReasonBlocked}
	case in.LoginWall:
		return Decision{Status: StatusBlocked, Reason: ReasonLoginWall}
	case in.ApplicationURL == "":
		return Decision{Status: StatusNeedsReview, Reason: ReasonMissingApplicationURL}
	case in.DeadlineDate != nil && in.DeadlineConfidence != ConfidenceLow &&
		Day(*in.DeadlineDate).Before(Day(in.Today)):
		return Decision{Status: StatusExpired, Reason: ReasonExpiredDeadline}
	default:
		return Decision{Status: StatusActive}
	}
}

// GateOpportunity runs the gate over a built draft.
func GateOpportunity(opp Opportunity, blocked, loginWall bool, today time.Time) Decision {
	return Gate(GateInput{
		Blocked:            blocked,
		LoginWall:          loginWall,
		ApplicationURL:     opp.ApplicationURL,
		DeadlineDate:       opp.DeadlineDate,
		DeadlineConfidence: opp.DeadlineConfidence,
		Today:              today,
	})
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// freshnessDecayPerHour is how many points a record loses per hour unverified.
const freshnessDecayPerHour = 5

// FreshnessScore returns clamp(0, 100, 100 - floor(hours*5)) for the time
// elapsed between lastVerified and now. A zero lastVerified scores 100.
func FreshnessScore(lastVerified, now time.Time) int {
	if lastVerified.IsZero() {
		return 100
	}
	hours := now.Sub(lastVerified).Hours()
	score := 100 - int(math.Floor(hours*freshnessDecayPerHour))
	return max(0, min(100, score))
}
