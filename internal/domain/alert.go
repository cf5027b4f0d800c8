package domain

import "time"

// Metric identifies which market series an alert was raised on.
type Metric string

const (
	MetricBidDepth      Metric = "orderbook_bid_depth"
	MetricAskDepth      Metric = "orderbook_ask_depth"
	MetricPriceMomentum Metric = "price_momentum"
	MetricCorrelation   Metric = "correlation"
)

// DepthMetrics are the order-book series evaluated for spikes each cycle.
var DepthMetrics = []Metric{MetricBidDepth, MetricAskDepth}

// AlertKind distinguishes which detection rule produced an alert. Spike and
// contrarian checks are independent: each may emit at most one alert per
// (market, metric) per cycle, and deduplication keys on the kind as well so
// one rule never suppresses the other.
type AlertKind string

const (
	AlertKindSpike      AlertKind = "spike"
	AlertKindContrarian AlertKind = "contrarian"
	AlertKindMomentum   AlertKind = "momentum"
	AlertKindArbitrage  AlertKind = "arbitrage"
)

// Direction indicates which way the underlying series moved.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Alert records a detected anomaly on a single market/metric. Alerts are an
// append-only audit trail: the only permitted mutation is flipping Notified
// from false to true after the notification step.
type Alert struct {
	ID            string
	MarketID      string
	Metric        Metric
	Kind          AlertKind
	ObservedValue float64
	BaselineValue float64
	Ratio         float64 // observed/baseline for depth; absolute shift for momentum
	SignalQuality int     // 0-100, gates notification
	Direction     Direction
	CreatedAt     time.Time
	Notified      bool
}

// NotifyEligible reports whether the alert clears the quality bar.
func (a Alert) NotifyEligible(minQuality int) bool {
	return a.SignalQuality >= minQuality
}

// ArbitrageSignal is emitted by the correlation tracker when a group's
// expected relation breaks down. It is forwarded to the sink the same way as
// an Alert.
type ArbitrageSignal struct {
	ID         string
	GroupID    string
	Timestamp  time.Time
	Divergence float64 // pp of divergence, or |implied sum - 1| for sum-to-one
	ImpliedSum float64 // 0 for non sum-to-one groups
	Severity   float64 // divergence relative to the group threshold, capped
	Note       string  // human-readable mispricing hint
}
