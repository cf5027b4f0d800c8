package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a monitored prediction market.
type Market struct {
	ID        string
	Question  string
	Slug      string
	EndDate   *time.Time
	Status    MarketStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarketSnapshot is one point in a market's order book and price time series.
// Snapshots are written by the external collector and are immutable; the
// engine only ever reads them, ordered ascending by Timestamp per market.
type MarketSnapshot struct {
	MarketID  string
	Timestamp time.Time
	YesPrice  float64 // implied probability of YES, 0.0-1.0
	BidDepth  float64 // total resting bid-side quantity
	AskDepth  float64 // total resting ask-side quantity
}

// Depth returns the snapshot's depth on the given metric's side.
func (s MarketSnapshot) Depth(metric Metric) float64 {
	if metric == MetricAskDepth {
		return s.AskDepth
	}
	return s.BidDepth
}
