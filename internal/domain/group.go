package domain

import "time"

// RelationType describes how a correlation group's members are expected to
// move relative to each other.
type RelationType string

const (
	// RelationTracking: members should move in the same direction.
	RelationTracking RelationType = "tracking"
	// RelationInverse: members should move in opposite directions.
	RelationInverse RelationType = "inverse"
	// RelationSumToOne: members are mutually exclusive outcomes of one event,
	// so their implied probabilities should sum to 1.
	RelationSumToOne RelationType = "sum_to_one"
)

// CorrelationGroup is a set of markets believed to be economically linked.
// Groups are seeded externally and read-only to the engine; only the computed
// correlation statistics attached to them are refreshed each cycle.
type CorrelationGroup struct {
	ID                  string
	Title               string
	Relation            RelationType
	MemberIDs           []string // size >= 2; exactly 2 for tracking/inverse
	DivergenceThreshold float64  // 0 means use the configured default
	Enabled             bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Threshold returns the group's divergence threshold, falling back to def
// when the group does not override it.
func (g CorrelationGroup) Threshold(def float64) float64 {
	if g.DivergenceThreshold > 0 {
		return g.DivergenceThreshold
	}
	return def
}
