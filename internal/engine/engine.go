// Package engine composes the detection, correlation, and resolution passes
// into the cycles the scheduler invokes, and owns the notification step.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polysignal/engine/internal/correlator"
	"github.com/polysignal/engine/internal/detector"
	"github.com/polysignal/engine/internal/domain"
	"github.com/polysignal/engine/internal/notify"
)

// Config holds the cycle-level settings.
type Config struct {
	MinSignalQuality int    // notification bar, alerts below it are audit-only
	SignalChannel    string // pub/sub channel for eligible alerts and signals
	SignalStream     string // durable stream for replay
}

// DetectionRunner runs one spike/contrarian/momentum pass.
type DetectionRunner interface {
	Run(ctx context.Context) (detector.CycleResult, error)
}

// CorrelationRunner runs one correlation-breakdown pass.
type CorrelationRunner interface {
	Run(ctx context.Context) (correlator.CycleResult, error)
}

// ResolutionRunner runs one prediction-resolution pass.
type ResolutionRunner interface {
	Run(ctx context.Context) (domain.ResolutionReport, error)
}

// Engine exposes the two cycles to the scheduler. The market store, signal
// bus, and price cache are optional; a nil value disables that side effect
// without changing cycle semantics.
type Engine struct {
	cfg        Config
	detector   DetectionRunner
	correlator CorrelationRunner
	resolver   ResolutionRunner
	alerts     domain.AlertStore
	snapshots  domain.SnapshotStore
	markets    domain.MarketStore
	notifier   *notify.Notifier
	bus        domain.SignalBus
	prices     domain.PriceCache
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Engine.
func New(
	cfg Config,
	det DetectionRunner,
	corr CorrelationRunner,
	res ResolutionRunner,
	alerts domain.AlertStore,
	snapshots domain.SnapshotStore,
	markets domain.MarketStore,
	notifier *notify.Notifier,
	bus domain.SignalBus,
	prices domain.PriceCache,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		detector:   det,
		correlator: corr,
		resolver:   res,
		alerts:     alerts,
		snapshots:  snapshots,
		markets:    markets,
		notifier:   notifier,
		bus:        bus,
		prices:     prices,
		logger:     logger.With(slog.String("component", "engine")),
		now:        time.Now,
	}
}

// RunDetectionCycle runs the detection and correlation passes, persists their
// findings, and forwards everything that clears the quality bar to the
// notifier and the signal bus. Per-item failures from either pass are carried
// in the report; only a pass-level failure (store unreachable) aborts.
func (e *Engine) RunDetectionCycle(ctx context.Context) (domain.DetectionReport, error) {
	report := domain.DetectionReport{StartedAt: e.now()}

	det, err := e.detector.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("engine: detection pass: %w", err)
	}
	report.Evaluated = det.Evaluated
	report.Alerts = det.Alerts
	report.Suppressed = det.Suppressed
	report.Skipped = det.Skipped
	report.Errors = det.Errors

	corr, err := e.correlator.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("engine: correlation pass: %w", err)
	}
	report.Groups = corr.Groups
	report.ArbSignals = corr.Signals
	report.Suppressed += corr.Suppressed
	report.Skipped += corr.Skipped
	report.Errors = append(report.Errors, corr.Errors...)

	e.cachePrices(ctx, report.Alerts)

	for _, a := range report.Notifiable(e.cfg.MinSignalQuality) {
		if err := e.forwardAlert(ctx, a); err != nil {
			report.Errors = append(report.Errors, domain.ItemError{Key: a.MarketID, Metric: a.Metric, Err: err})
			continue
		}
		report.Notified++
	}
	for _, s := range report.ArbSignals {
		if err := e.forwardSignal(ctx, s); err != nil {
			report.Errors = append(report.Errors, domain.ItemError{Key: s.GroupID, Metric: domain.MetricCorrelation, Err: err})
		}
	}

	e.logger.Info("detection cycle complete",
		slog.Int("evaluated", report.Evaluated),
		slog.Int("groups", report.Groups),
		slog.Int("alerts", len(report.Alerts)),
		slog.Int("signals", len(report.ArbSignals)),
		slog.Int("notified", report.Notified),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// RunResolutionCycle runs one resolution pass and reports the outcome to the
// notifier when anything actually resolved.
func (e *Engine) RunResolutionCycle(ctx context.Context) (domain.ResolutionReport, error) {
	report, err := e.resolver.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("engine: resolution pass: %w", err)
	}

	if report.Resolved > 0 && e.notifier != nil {
		title := "Predictions resolved"
		msg := fmt.Sprintf("%d of %d checked predictions resolved, %d still pending",
			report.Resolved, report.Checked, report.Pending)
		if err := e.notifier.Notify(ctx, notify.EventResolution, title, msg); err != nil {
			e.logger.Warn("resolution notification failed", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

// forwardAlert marks the alert notified only after the notifier accepted it,
// so a delivery failure leaves the alert eligible for the next cycle.
func (e *Engine) forwardAlert(ctx context.Context, a domain.Alert) error {
	if e.notifier != nil {
		title, msg := notify.FormatAlert(a)
		// Lead the body with the market question when metadata is available.
		if e.markets != nil {
			if m, err := e.markets.GetByID(ctx, a.MarketID); err == nil && m.Question != "" {
				msg = m.Question + "\n" + msg
			}
		}
		if err := e.notifier.Notify(ctx, notify.EventAlert, title, msg); err != nil {
			return fmt.Errorf("notify alert: %w", err)
		}
	}
	if err := e.alerts.MarkNotified(ctx, a.ID); err != nil {
		return fmt.Errorf("mark notified: %w: %w", domain.ErrStoreWrite, err)
	}
	e.publish(ctx, a)
	return nil
}

func (e *Engine) forwardSignal(ctx context.Context, s domain.ArbitrageSignal) error {
	if e.notifier != nil {
		title, msg := notify.FormatSignal(s)
		if err := e.notifier.Notify(ctx, notify.EventArbitrage, title, msg); err != nil {
			return fmt.Errorf("notify signal: %w", err)
		}
	}
	e.publish(ctx, s)
	return nil
}

// publish fans the payload out over the bus. Bus failures are logged, not
// propagated: the bus is an auxiliary surface, the store is the audit trail.
func (e *Engine) publish(ctx context.Context, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.logger.Warn("signal encode failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, e.cfg.SignalChannel, payload); err != nil {
		e.logger.Warn("signal publish failed", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, e.cfg.SignalStream, payload); err != nil {
		e.logger.Warn("signal stream append failed", slog.String("error", err.Error()))
	}
}

// cachePrices refreshes the price cache for every market that alerted, so
// downstream consumers reading the bus can look prices up without hitting
// the snapshot store.
func (e *Engine) cachePrices(ctx context.Context, alerts []domain.Alert) {
	if e.prices == nil {
		return
	}
	seen := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		if seen[a.MarketID] {
			continue
		}
		seen[a.MarketID] = true
		snap, err := e.snapshots.GetLatest(ctx, a.MarketID)
		if err != nil {
			continue
		}
		if err := e.prices.SetPrice(ctx, a.MarketID, snap.YesPrice, snap.Timestamp); err != nil {
			e.logger.Warn("price cache write failed",
				slog.String("market_id", a.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}
