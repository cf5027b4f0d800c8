// Package resolver settles stored predictions against real-world market
// outcomes once the market's end date has passed and its price is decisive.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polysignal/engine/internal/domain"
)

// Config holds the resolution price boundaries. A market only counts as
// settled when its latest price is strictly outside [NoCeiling, YesFloor].
type Config struct {
	YesFloor  float64 // price must exceed this for a YES outcome
	NoCeiling float64 // price must be below this for a NO outcome
}

// Checker resolves predictions in batch on a slower cadence than detection.
type Checker struct {
	cfg         Config
	predictions domain.PredictionStore
	snapshots   domain.SnapshotStore
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Checker with the given configuration and collaborators.
func New(cfg Config, predictions domain.PredictionStore, snapshots domain.SnapshotStore, logger *slog.Logger) *Checker {
	return &Checker{
		cfg:         cfg,
		predictions: predictions,
		snapshots:   snapshots,
		logger:      logger.With(slog.String("component", "resolver")),
		now:         time.Now,
	}
}

// DetermineOutcome maps a latest price onto a realized outcome. Both
// boundaries are exclusive: a price exactly at the floor or ceiling is not
// decisive and the market stays pending.
func (c *Checker) DetermineOutcome(price float64) (domain.Outcome, bool) {
	switch {
	case price > c.cfg.YesFloor:
		return domain.OutcomeYes, true
	case price < c.cfg.NoCeiling:
		return domain.OutcomeNo, true
	default:
		return "", false
	}
}

// CheckPredictionCorrect compares a suggested play with the realized outcome.
// The returned pointer is nil when the prediction carried no play, in which
// case no correctness verdict exists and the prediction must not be settled.
func CheckPredictionCorrect(play domain.SuggestedPlay, outcome domain.Outcome) *bool {
	var correct bool
	switch play {
	case domain.PlayBuyYes:
		correct = outcome == domain.OutcomeYes
	case domain.PlayBuyNo:
		correct = outcome == domain.OutcomeNo
	default:
		return nil
	}
	return &correct
}

// Run processes every unresolved prediction whose end date has passed,
// performing at most one state transition each. A price lookup failure for
// one market never stops the rest of the batch. The returned report counts
// newly resolved predictions only; idempotent re-resolutions are not counted.
func (c *Checker) Run(ctx context.Context) (domain.ResolutionReport, error) {
	now := c.now()
	report := domain.ResolutionReport{StartedAt: now}

	pending, err := c.predictions.ListUnresolved(ctx, now)
	if err != nil {
		return report, fmt.Errorf("resolver: list unresolved: %w", err)
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return report, fmt.Errorf("resolver: cycle aborted: %w", ctx.Err())
		}
		report.Checked++

		resolved, err := c.resolveOne(ctx, p)
		switch {
		case errors.Is(err, domain.ErrUndetermined):
			report.Pending++
		case err != nil:
			report.Errors = append(report.Errors, domain.ItemError{
				Key: fmt.Sprintf("%d", p.ID),
				Err: err,
			})
		case resolved:
			report.Resolved++
		}
	}

	c.logger.Info("resolution pass complete",
		slog.Int("checked", report.Checked),
		slog.Int("resolved", report.Resolved),
		slog.Int("pending", report.Pending),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// resolveOne transitions a single prediction. ErrUndetermined means either
// the market has not settled in practice despite its nominal end date, or
// the prediction carries no play and so can never earn a verdict.
func (c *Checker) resolveOne(ctx context.Context, p domain.Prediction) (bool, error) {
	price, err := c.snapshots.LatestPrice(ctx, p.MarketID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, domain.ErrUndetermined
	}
	if err != nil {
		return false, fmt.Errorf("latest price %s: %w: %w", p.MarketID, domain.ErrSourceUnavailable, err)
	}

	outcome, decisive := c.DetermineOutcome(price)
	if !decisive {
		return false, domain.ErrUndetermined
	}

	correct := CheckPredictionCorrect(p.SuggestedPlay, outcome)
	if correct == nil {
		// Without a play there is no verdict to record; the row stays pending.
		return false, domain.ErrUndetermined
	}

	resolved, err := c.predictions.Resolve(ctx, p.ID, outcome, correct)
	if err != nil {
		return false, fmt.Errorf("resolve prediction %d: %w: %w", p.ID, domain.ErrStoreWrite, err)
	}
	if resolved {
		c.logger.Info("prediction resolved",
			slog.Int64("prediction_id", p.ID),
			slog.String("market_id", p.MarketID),
			slog.String("outcome", string(outcome)),
			slog.Float64("price", price),
		)
	}
	return resolved, nil
}
