package session

import "time"

// Anomaly scoring is a pure function of a session's counters, the wall-clock
// hour, and the user's historical average session duration. The score is
// advisory only: it never revokes a session by itself.

// FlagThreshold is the score at or above which a session is flagged
// suspicious.
const FlagThreshold = 7.0

// maxScore caps the total after summing all rules.
const maxScore = 10.0

// Per-rule point values.
const (
	pointsRequestRate     = 2.5 // >30 requests in the current hour
	pointsPHIRate         = 3.0 // >10 PHI accesses in the current hour
	pointsOffHours        = 1.5 // activity between 22:00 and 06:00
	pointsLongSession     = 2.0 // duration > 3x user's historical average
	pointsRepeatedFailure = 4.0 // more than 3 failed attempts
)

// Rule trigger thresholds.
const (
	requestRateLimit  = 30
	phiRateLimit      = 10
	failedAttemptMax  = 3
	longSessionFactor = 3
)

// ScoreInput carries everything the scorer looks at.
type ScoreInput struct {
	RequestsThisHour    int
	PHIAccessesThisHour int
	FailedAttempts      int
	Hour                int // wall-clock hour of the activity, 0-23
	SessionDuration     time.Duration
	HistoricalAvg       time.Duration // zero when the user has no history
}

// OffHours reports whether hour falls in the [22:00, 06:00) window.
func OffHours(hour int) bool {
	return hour >= 22 || hour < 6
}

// Score computes the additive risk score, each rule independently capped at
// its point value, the total capped at 10.0.
func Score(in ScoreInput) float64 {
	var score float64

	if in.RequestsThisHour > requestRateLimit {
		score += pointsRequestRate
	}
	if in.PHIAccessesThisHour > phiRateLimit {
		score += pointsPHIRate
	}
	if OffHours(in.Hour) {
		score += pointsOffHours
	}
	if in.HistoricalAvg > 0 && in.SessionDuration > longSessionFactor*in.HistoricalAvg {
		score += pointsLongSession
	}
	if in.FailedAttempts > failedAttemptMax {
		score += pointsRepeatedFailure
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// Suspicious reports whether a score crosses the flag threshold.
func Suspicious(score float64) bool {
	return score >= FlagThreshold
}
