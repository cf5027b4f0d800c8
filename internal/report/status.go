package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polysignal/engine/internal/domain"
)

// StatusConfig carries the detection thresholds the health checks compare
// against, plus the signal stream to inspect.
type StatusConfig struct {
	MinSnapshotsForBaseline int
	BaselineHours           int
	SignalStream            string
	RecentAlerts            int // rows in the recent-alert table
}

// StatusReporter assembles a one-shot operational snapshot of the stores and
// caches. The price cache and signal bus are optional; a nil value drops the
// matching section.
type StatusReporter struct {
	cfg       StatusConfig
	markets   domain.MarketStore
	snapshots domain.SnapshotStore
	alerts    domain.AlertStore
	groups    domain.CorrelationGroupStore
	prices    domain.PriceCache
	bus       domain.SignalBus
	logger    *slog.Logger
	now       func() time.Time
}

// NewStatusReporter creates a StatusReporter over the given collaborators.
func NewStatusReporter(
	cfg StatusConfig,
	markets domain.MarketStore,
	snapshots domain.SnapshotStore,
	alerts domain.AlertStore,
	groups domain.CorrelationGroupStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *StatusReporter {
	if cfg.RecentAlerts <= 0 {
		cfg.RecentAlerts = 5
	}
	return &StatusReporter{
		cfg:       cfg,
		markets:   markets,
		snapshots: snapshots,
		alerts:    alerts,
		groups:    groups,
		prices:    prices,
		bus:       bus,
		logger:    logger.With(slog.String("component", "status")),
		now:       time.Now,
	}
}

// RecentAlert is one row of the recent-alert table, with the market question
// attached when the market record exists.
type RecentAlert struct {
	CreatedAt time.Time `json:"created_at"`
	MarketID  string    `json:"market_id"`
	Question  string    `json:"question,omitempty"`
	Metric    string    `json:"metric"`
	Kind      string    `json:"kind"`
	Ratio     float64   `json:"ratio"`
	Quality   int       `json:"quality"`
}

// Status is the operational snapshot.
type Status struct {
	GeneratedAt    time.Time          `json:"generated_at"`
	MarketsTracked int64              `json:"markets_tracked"`
	ActiveMarkets  int                `json:"active_markets"`
	MarketsReady   int                `json:"markets_ready"`
	Alerts24h      int                `json:"alerts_24h"`
	AlertsByKind   map[string]int     `json:"alerts_by_kind"`
	RecentAlerts   []RecentAlert      `json:"recent_alerts"`
	Groups         int                `json:"correlation_groups"`
	LivePrices     map[string]float64 `json:"live_prices,omitempty"`
	SignalLogDepth int                `json:"signal_log_depth,omitempty"`
	Warnings       []string           `json:"warnings"`
}

// Collect reads every store once and returns the snapshot. Store failures
// abort; degraded-but-running conditions come back as warnings.
func (r *StatusReporter) Collect(ctx context.Context) (Status, error) {
	now := r.now()
	status := Status{GeneratedAt: now, AlertsByKind: map[string]int{}}

	total, err := r.markets.Count(ctx)
	if err != nil {
		return status, fmt.Errorf("status: count markets: %w", err)
	}
	status.MarketsTracked = total

	active, err := r.markets.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return status, fmt.Errorf("status: list active markets: %w", err)
	}
	status.ActiveMarkets = len(active)

	baselineSince := now.Add(-time.Duration(r.cfg.BaselineHours) * time.Hour)
	ready, err := r.snapshots.ListMarketsWithHistory(ctx, r.cfg.MinSnapshotsForBaseline+1, baselineSince)
	if err != nil {
		return status, fmt.Errorf("status: list markets with history: %w", err)
	}
	status.MarketsReady = len(ready)

	daySince := now.Add(-24 * time.Hour)
	alerts, err := r.alerts.ListRecent(ctx, domain.ListOpts{Since: &daySince})
	if err != nil {
		return status, fmt.Errorf("status: list alerts: %w", err)
	}
	status.Alerts24h = len(alerts)
	for _, a := range alerts {
		status.AlertsByKind[string(a.Kind)]++
	}
	status.RecentAlerts = r.recentAlerts(ctx, alerts)

	groups, err := r.groups.List(ctx)
	if err != nil {
		return status, fmt.Errorf("status: list groups: %w", err)
	}
	status.Groups = len(groups)

	if r.prices != nil {
		ids := alertMarkets(status.RecentAlerts)
		prices, err := r.prices.GetPrices(ctx, ids)
		if err != nil {
			status.Warnings = append(status.Warnings, fmt.Sprintf("price cache unavailable: %v", err))
		} else {
			status.LivePrices = prices
		}
	}

	if r.bus != nil && r.cfg.SignalStream != "" {
		msgs, err := r.bus.StreamRead(ctx, r.cfg.SignalStream, "0", 1000)
		if err != nil {
			status.Warnings = append(status.Warnings, fmt.Sprintf("signal stream unavailable: %v", err))
		} else {
			status.SignalLogDepth = len(msgs)
		}
	}

	if status.MarketsTracked == 0 {
		status.Warnings = append(status.Warnings, "no markets tracked yet; the collector has not run")
	}
	if status.MarketsReady == 0 {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("no market has the %d snapshots detection needs", r.cfg.MinSnapshotsForBaseline+1))
	}

	r.logger.Info("status collected",
		slog.Int64("markets", status.MarketsTracked),
		slog.Int("ready", status.MarketsReady),
		slog.Int("alerts_24h", status.Alerts24h),
		slog.Int("warnings", len(status.Warnings)),
	)
	return status, nil
}

// recentAlerts converts the newest alerts into table rows, attaching the
// market question when the market record exists.
func (r *StatusReporter) recentAlerts(ctx context.Context, alerts []domain.Alert) []RecentAlert {
	limit := r.cfg.RecentAlerts
	if len(alerts) < limit {
		limit = len(alerts)
	}

	rows := make([]RecentAlert, 0, limit)
	for _, a := range alerts[:limit] {
		row := RecentAlert{
			CreatedAt: a.CreatedAt,
			MarketID:  a.MarketID,
			Metric:    string(a.Metric),
			Kind:      string(a.Kind),
			Ratio:     a.Ratio,
			Quality:   a.SignalQuality,
		}
		if m, err := r.markets.GetByID(ctx, a.MarketID); err == nil {
			row.Question = m.Question
		}
		rows = append(rows, row)
	}
	return rows
}

func alertMarkets(rows []RecentAlert) []string {
	seen := map[string]bool{}
	var ids []string
	for _, row := range rows {
		if !seen[row.MarketID] {
			seen[row.MarketID] = true
			ids = append(ids, row.MarketID)
		}
	}
	return ids
}
