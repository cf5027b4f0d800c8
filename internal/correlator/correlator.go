// Package correlator tracks groups of economically linked markets and emits
// arbitrage signals when the expected relation between their prices breaks
// down.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/polysignal/engine/internal/domain"
	"github.com/polysignal/engine/internal/indicators"
)

// Config holds the correlation-breakdown thresholds.
type Config struct {
	DefaultDivergenceThreshold float64       // used when a group does not override it
	WindowHours                int           // rolling price window span
	MinOverlap                 int           // minimum price points per member
	MinMove                    float64       // leader move below this is noise, no divergence check
	DuplicateAlertWindow       time.Duration // suppression window per group
	SeverityCap                float64       // severity = divergence/threshold, capped here
}

// Tracker evaluates correlation groups once per cycle. Windows are recomputed
// from the snapshot store each time; nothing is retained between cycles.
type Tracker struct {
	cfg       Config
	groups    domain.CorrelationGroupStore
	snapshots domain.SnapshotStore
	alerts    domain.AlertStore
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Tracker with the given configuration and collaborators.
func New(cfg Config, groups domain.CorrelationGroupStore, snapshots domain.SnapshotStore, alerts domain.AlertStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		groups:    groups,
		snapshots: snapshots,
		alerts:    alerts,
		logger:    logger.With(slog.String("component", "correlator")),
		now:       time.Now,
	}
}

// GroupResult is the outcome of evaluating one group in a cycle.
type GroupResult struct {
	GroupID    string
	Signal     *domain.ArbitrageSignal
	Skipped    bool // disabled, or insufficient overlapping history
	Suppressed bool
}

// CycleResult aggregates one correlation pass.
type CycleResult struct {
	Groups     int
	Signals    []domain.ArbitrageSignal
	Skipped    int
	Suppressed int
	Errors     []domain.ItemError
}

// Run evaluates every configured group. A group with insufficient history is
// skipped for the cycle and never blocks its siblings; only a failure listing
// the groups aborts the cycle.
func (t *Tracker) Run(ctx context.Context) (CycleResult, error) {
	groups, err := t.groups.List(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("correlator: list groups: %w", err)
	}

	var res CycleResult
	for _, g := range groups {
		if ctx.Err() != nil {
			return res, fmt.Errorf("correlator: cycle aborted: %w", ctx.Err())
		}
		gr, err := t.EvaluateGroup(ctx, g)
		if err != nil {
			res.Errors = append(res.Errors, domain.ItemError{Key: g.ID, Metric: domain.MetricCorrelation, Err: err})
			continue
		}
		res.Groups++
		if gr.Skipped {
			res.Skipped++
		}
		if gr.Suppressed {
			res.Suppressed++
		}
		if gr.Signal != nil {
			res.Signals = append(res.Signals, *gr.Signal)
		}
	}

	t.logger.Info("correlation pass complete",
		slog.Int("groups", res.Groups),
		slog.Int("signals", len(res.Signals)),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// EvaluateGroup applies the relation-specific breakdown rule to one group.
func (t *Tracker) EvaluateGroup(ctx context.Context, g domain.CorrelationGroup) (GroupResult, error) {
	res := GroupResult{GroupID: g.ID}
	if !g.Enabled || len(g.MemberIDs) < 2 {
		res.Skipped = true
		return res, nil
	}

	switch g.Relation {
	case domain.RelationSumToOne:
		return t.evaluateSumToOne(ctx, g)
	case domain.RelationTracking, domain.RelationInverse:
		return t.evaluatePair(ctx, g)
	default:
		res.Skipped = true
		return res, nil
	}
}

// evaluateSumToOne checks that mutually exclusive outcomes still price to a
// combined probability of 1.
func (t *Tracker) evaluateSumToOne(ctx context.Context, g domain.CorrelationGroup) (GroupResult, error) {
	res := GroupResult{GroupID: g.ID}

	var sum float64
	for _, id := range g.MemberIDs {
		price, err := t.snapshots.LatestPrice(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("latest price %s: %w: %w", id, domain.ErrSourceUnavailable, err)
		}
		sum += price
	}

	threshold := g.Threshold(t.cfg.DefaultDivergenceThreshold)
	divergence := math.Abs(sum - 1)
	if divergence < threshold {
		return res, nil
	}

	note := fmt.Sprintf("implied probabilities sum to %.3f across %d outcomes", sum, len(g.MemberIDs))
	return t.emit(ctx, g, res, divergence, sum, threshold, note)
}

// evaluatePair checks a two-market tracking or inverse relation. The baseline
// for each member is the mean of the first half of its window; the deltas
// from baseline to latest price are compared against the expected relation.
func (t *Tracker) evaluatePair(ctx context.Context, g domain.CorrelationGroup) (GroupResult, error) {
	res := GroupResult{GroupID: g.ID}
	since := t.now().Add(-time.Duration(t.cfg.WindowHours) * time.Hour)

	series := make([][]float64, 0, 2)
	for _, id := range g.MemberIDs[:2] {
		snaps, err := t.snapshots.GetSnapshots(ctx, id, since)
		if err != nil {
			return res, fmt.Errorf("get snapshots %s: %w: %w", id, domain.ErrSourceUnavailable, err)
		}
		if len(snaps) < t.cfg.MinOverlap {
			res.Skipped = true
			return res, nil
		}
		prices := make([]float64, len(snaps))
		for i, s := range snaps {
			prices[i] = s.YesPrice
		}
		series = append(series, prices)
	}

	deltaA := delta(series[0])
	deltaB := delta(series[1])
	if math.Abs(deltaA) < t.cfg.MinMove {
		return res, nil
	}

	var divergence float64
	if g.Relation == domain.RelationInverse {
		// B should have moved by -deltaA.
		divergence = math.Abs(deltaA + deltaB)
	} else {
		divergence = math.Abs(deltaA - deltaB)
	}

	threshold := g.Threshold(t.cfg.DefaultDivergenceThreshold)
	if divergence < threshold {
		return res, nil
	}

	note := fmt.Sprintf("%s pair moved %+.3f vs %+.3f", g.Relation, deltaA, deltaB)
	if r, err := indicators.Pearson(alignTail(series[0], series[1])); err == nil {
		note = fmt.Sprintf("%s (window correlation %.2f)", note, r)
	}
	return t.emit(ctx, g, res, divergence, 0, threshold, note)
}

// emit persists the breakdown as an audit alert, relying on the store's
// atomic dedup, and attaches the transient signal to the result when the
// alert was not suppressed.
func (t *Tracker) emit(ctx context.Context, g domain.CorrelationGroup, res GroupResult, divergence, impliedSum, threshold float64, note string) (GroupResult, error) {
	now := t.now()
	severity := math.Min(divergence/threshold, t.cfg.SeverityCap)

	alert := domain.Alert{
		ID:            uuid.NewString(),
		MarketID:      g.ID,
		Metric:        domain.MetricCorrelation,
		Kind:          domain.AlertKindArbitrage,
		ObservedValue: divergence,
		BaselineValue: threshold,
		Ratio:         severity,
		SignalQuality: severityQuality(severity),
		Direction:     domain.DirectionUp,
		CreatedAt:     now,
	}

	_, err := t.alerts.InsertIfNoneSince(ctx, alert, now.Add(-t.cfg.DuplicateAlertWindow))
	switch {
	case errors.Is(err, domain.ErrDuplicateAlert):
		res.Suppressed = true
		return res, nil
	case err != nil:
		return res, fmt.Errorf("insert signal: %w: %w", domain.ErrStoreWrite, err)
	}

	res.Signal = &domain.ArbitrageSignal{
		ID:         alert.ID,
		GroupID:    g.ID,
		Timestamp:  now,
		Divergence: divergence,
		ImpliedSum: impliedSum,
		Severity:   severity,
		Note:       note,
	}

	t.logger.Info("arbitrage signal",
		slog.String("group_id", g.ID),
		slog.String("relation", string(g.Relation)),
		slog.Float64("divergence", divergence),
		slog.Float64("severity", severity),
	)
	return res, nil
}

// severityQuality maps severity onto the 0-100 alert quality scale: a
// breakdown exactly at threshold (severity 1) scores 50, twice the threshold
// scores 100.
func severityQuality(severity float64) int {
	score := math.Round(50 * severity)
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return int(score)
}

// delta returns latest minus the mean of the first half of the window.
func delta(prices []float64) float64 {
	half := prices[:len(prices)/2]
	if len(half) == 0 {
		half = prices[:1]
	}
	return prices[len(prices)-1] - indicators.Mean(half)
}

// alignTail trims two series to their common tail length so a pairwise
// correlation can be computed when the members have uneven histories.
func alignTail(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}
