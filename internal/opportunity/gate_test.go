package opportunity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGatePriority(t *testing.T) {
	today := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	past := time.Date(2026, 5, 9, 23, 0, 0, 0, time.UTC)
	sameDay := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		in     GateInput
		status Status
		reason string
	}{
		{
			name:   "blocked outranks everything",
			in:     GateInput{Blocked: true, LoginWall: true, DeadlineDate: &past, DeadlineConfidence: ConfidenceHigh, Today: today},
			status: StatusBlocked, reason: ReasonBlocked,
		},
		{
			name:   "login wall",
			in:     GateInput{LoginWall: true, ApplicationURL: "https://x/apply", Today: today},
			status: StatusBlocked, reason: ReasonLoginWall,
		},
		{
			name:   "missing application url outranks expiry",
			in:     GateInput{DeadlineDate: &past, DeadlineConfidence: ConfidenceHigh, Today: today},
			status: StatusNeedsReview, reason: ReasonMissingApplicationURL,
		},
		{
			name:   "confident past deadline expires",
			in:     GateInput{ApplicationURL: "https://x/apply", DeadlineDate: &past, DeadlineConfidence: ConfidenceMedium, Today: today},
			status: StatusExpired, reason: ReasonExpiredDeadline,
		},
		{
			name:   "low confidence never expires",
			in:     GateInput{ApplicationURL: "https://x/apply", DeadlineDate: &past, DeadlineConfidence: ConfidenceLow, Today: today},
			status: StatusActive,
		},
		{
			name:   "deadline today is still open",
			in:     GateInput{ApplicationURL: "https://x/apply", DeadlineDate: &sameDay, DeadlineConfidence: ConfidenceHigh, Today: today},
			status: StatusActive,
		},
		{
			name:   "no deadline",
			in:     GateInput{ApplicationURL: "https://x/apply", Today: today},
			status: StatusActive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Gate(tt.in)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestGateBlockedAlwaysWins(t *testing.T) {
	today := time.Now()
	for _, login := range []bool{false, true} {
		for _, apply := range []string{"", "https://x/apply"} {
			for _, conf := range []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow} {
				d := today.AddDate(0, 0, -3)
				got := Gate(GateInput{Blocked: true, LoginWall: login, ApplicationURL: apply, DeadlineDate: &d, DeadlineConfidence: conf, Today: today})
				assert.Equal(t, StatusBlocked, got.Status)
			}
		}
	}
}

func TestFreshnessScore(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 100, FreshnessScore(time.Time{}, now))
	assert.Equal(t, 100, FreshnessScore(now, now))
	assert.Equal(t, 98, FreshnessScore(now.Add(-30*time.Minute), now))
	assert.Equal(t, 90, FreshnessScore(now.Add(-2*time.Hour), now))
	assert.Equal(t, 0, FreshnessScore(now.Add(-21*time.Hour), now))
	assert.Equal(t, 100, FreshnessScore(now.Add(time.Hour), now), "clock skew clamps to 100")
}
