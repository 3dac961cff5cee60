package models

// Skip reasons reported on EventResult.
const (
	SkipUnknownEvent  = "unknown_event"
	SkipInactiveEvent = "inactive_event"
)

// EventResult is what one registered event produced.
type EventResult struct {
	EventCode     string                `json:"event_code"`
	PointsAwarded int64                 `json:"points_awarded"`
	Skipped       bool                  `json:"skipped"`
	SkipReason    string                `json:"skip_reason,omitempty"`
	Promoted      bool                  `json:"promoted"`
	Level         *Level                `json:"level,omitempty"`
	Completions   []ChallengeCompletion `json:"completions,omitempty"`
	// ChallengeErrors holds per-challenge failures that were rolled back to
	// their savepoint without affecting the event.
	ChallengeErrors []error `json:"-"`
}

// LevelOutcome is the result of one level evaluation.
type LevelOutcome struct {
	Promoted bool
	Level    *Level
}
