package domain

import "time"

// Outcome is the realized result of a binary prediction market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// SuggestedPlay is the trade direction attached to a stored prediction.
type SuggestedPlay string

const (
	PlayBuyYes SuggestedPlay = "BUY YES"
	PlayBuyNo  SuggestedPlay = "BUY NO"
)

// Prediction is a stored trade suggestion awaiting real-world resolution.
// It is created by the upstream analysis step and mutated exactly once by the
// resolution checker: Resolved flips false to true with Outcome and Correct
// set together, after which the record is terminal.
type Prediction struct {
	ID            int64
	MarketID      string
	Question      string
	SuggestedPlay SuggestedPlay // empty when the analysis declined to pick a side
	EndDate       time.Time
	Resolved      bool
	Outcome       Outcome // empty until resolved
	Correct       *bool   // nil until resolved, or when undeterminable
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
