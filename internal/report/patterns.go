// Package report builds offline summaries over the stored history: how often
// each alert pattern preceded the realized market outcome, and a
// point-in-time status of the stores and caches feeding the engine.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/polysignal/engine/internal/domain"
)

// Config bounds the pattern analysis window and sample requirements.
type Config struct {
	AnalysisDays      int           // history window for alerts and outcomes
	MinPatternSamples int           // samples before a pattern counts as real
	CombinedWindow    time.Duration // max gap between alerts treated as one combined pattern
}

// Analyzer scores past alerts against realized outcomes. Bid-depth alerts
// forecast YES, ask-depth alerts forecast NO, momentum alerts follow their
// direction; correlation signals carry no single-market forecast and are
// excluded.
type Analyzer struct {
	cfg         Config
	alerts      domain.AlertStore
	predictions domain.PredictionStore
	logger      *slog.Logger
	now         func() time.Time
}

// NewAnalyzer creates an Analyzer over the alert and prediction history.
func NewAnalyzer(cfg Config, alerts domain.AlertStore, predictions domain.PredictionStore, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:         cfg,
		alerts:      alerts,
		predictions: predictions,
		logger:      logger.With(slog.String("component", "report")),
		now:         time.Now,
	}
}

// PatternStats counts forecasts and hits for one pattern bucket.
type PatternStats struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// Accuracy returns the hit rate in percent, 0 for an empty bucket.
func (s PatternStats) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total) * 100
}

// RankedPattern is one row of the best-patterns table.
type RankedPattern struct {
	Pattern  string  `json:"pattern"`
	Accuracy float64 `json:"accuracy"`
	Samples  int     `json:"samples"`
	Combined bool    `json:"combined,omitempty"`
}

// PatternReport is the full accuracy analysis over the window.
type PatternReport struct {
	GeneratedAt     time.Time               `json:"generated_at"`
	DaysAnalyzed    int                     `json:"days_analyzed"`
	TotalAlerts     int                     `json:"total_alerts"`
	ResolvedMarkets int                     `json:"resolved_markets"`
	Forecasts       int                     `json:"forecasts"`
	Correct         int                     `json:"correct"`
	OverallAccuracy float64                 `json:"overall_accuracy"`
	ByMetric        map[string]PatternStats `json:"by_metric"`
	ByMagnitude     map[string]PatternStats `json:"by_magnitude"`
	Combined        map[string]PatternStats `json:"combined_patterns"`
	BestPatterns    []RankedPattern         `json:"best_patterns"`
	Insights        []string                `json:"insights"`
}

// Generate pulls the alert history and resolved predictions for the window
// and scores every alert forecast against the market's realized outcome.
func (a *Analyzer) Generate(ctx context.Context) (PatternReport, error) {
	now := a.now()
	since := now.AddDate(0, 0, -a.cfg.AnalysisDays)
	report := PatternReport{
		GeneratedAt:  now,
		DaysAnalyzed: a.cfg.AnalysisDays,
		ByMetric:     map[string]PatternStats{},
		ByMagnitude:  map[string]PatternStats{},
		Combined:     map[string]PatternStats{},
	}

	alerts, err := a.alerts.ListRecent(ctx, domain.ListOpts{Since: &since})
	if err != nil {
		return report, fmt.Errorf("report: list alerts: %w", err)
	}
	report.TotalAlerts = len(alerts)

	resolved, err := a.predictions.ListResolved(ctx, since)
	if err != nil {
		return report, fmt.Errorf("report: list resolved predictions: %w", err)
	}
	outcomes := map[string]domain.Outcome{}
	for _, p := range resolved {
		if p.Outcome != "" {
			outcomes[p.MarketID] = p.Outcome
		}
	}
	report.ResolvedMarkets = len(outcomes)

	byMarket := map[string][]domain.Alert{}
	for _, alert := range alerts {
		outcome, ok := outcomes[alert.MarketID]
		if !ok {
			continue
		}
		byMarket[alert.MarketID] = append(byMarket[alert.MarketID], alert)

		forecast, ok := alertForecast(alert)
		if !ok {
			continue
		}
		hit := forecast == outcome
		report.Forecasts++
		if hit {
			report.Correct++
		}

		record(report.ByMetric, string(alert.Metric), hit)
		record(report.ByMagnitude, string(alert.Metric)+" "+magnitudeBucket(alert), hit)
	}
	if report.Forecasts > 0 {
		report.OverallAccuracy = round1(float64(report.Correct) / float64(report.Forecasts) * 100)
	}

	a.combinedPatterns(byMarket, outcomes, &report)
	report.BestPatterns = a.rankPatterns(report)
	report.Insights = a.insights(report)

	a.logger.Info("pattern report generated",
		slog.Int("alerts", report.TotalAlerts),
		slog.Int("forecasts", report.Forecasts),
		slog.Float64("accuracy", report.OverallAccuracy),
	)
	return report, nil
}

// combinedPatterns scores pairs of different alert metrics that fired on the
// same market within the combined window. The earlier alert's forecast is
// taken as the pair's forecast.
func (a *Analyzer) combinedPatterns(byMarket map[string][]domain.Alert, outcomes map[string]domain.Outcome, report *PatternReport) {
	for marketID, list := range byMarket {
		if len(list) < 2 {
			continue
		}
		outcome := outcomes[marketID]

		sorted := append([]domain.Alert(nil), list...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

		for i, first := range sorted {
			for _, second := range sorted[i+1:] {
				if second.CreatedAt.Sub(first.CreatedAt) > a.cfg.CombinedWindow {
					break
				}
				if first.Metric == second.Metric {
					continue
				}
				forecast, ok := alertForecast(first)
				if !ok {
					forecast, ok = alertForecast(second)
				}
				if !ok {
					continue
				}
				record(report.Combined, combinedKey(first.Metric, second.Metric), forecast == outcome)
			}
		}
	}
}

// rankPatterns lists magnitude and combined buckets with enough samples,
// best accuracy first, capped at ten rows.
func (a *Analyzer) rankPatterns(report PatternReport) []RankedPattern {
	var ranked []RankedPattern
	for key, stats := range report.ByMagnitude {
		if stats.Total >= a.cfg.MinPatternSamples {
			ranked = append(ranked, RankedPattern{Pattern: key, Accuracy: round1(stats.Accuracy()), Samples: stats.Total})
		}
	}
	for key, stats := range report.Combined {
		if stats.Total >= a.cfg.MinPatternSamples {
			ranked = append(ranked, RankedPattern{Pattern: key, Accuracy: round1(stats.Accuracy()), Samples: stats.Total, Combined: true})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Accuracy != ranked[j].Accuracy {
			return ranked[i].Accuracy > ranked[j].Accuracy
		}
		return ranked[i].Pattern < ranked[j].Pattern
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	return ranked
}

// insights renders the headline findings as plain sentences.
func (a *Analyzer) insights(report PatternReport) []string {
	var out []string

	switch {
	case report.Forecasts == 0:
		out = append(out, "no resolved forecasts in the window yet")
	case report.OverallAccuracy >= 70:
		out = append(out, fmt.Sprintf("strong predictive signal: %.1f%% overall accuracy", report.OverallAccuracy))
	case report.OverallAccuracy >= 50:
		out = append(out, fmt.Sprintf("moderate predictive signal: %.1f%% overall accuracy", report.OverallAccuracy))
	default:
		out = append(out, fmt.Sprintf("weak predictive signal: %.1f%% overall accuracy", report.OverallAccuracy))
	}

	if len(report.BestPatterns) > 0 && report.BestPatterns[0].Accuracy >= 70 {
		best := report.BestPatterns[0]
		out = append(out, fmt.Sprintf("best pattern: %q at %.0f%% accuracy (%d samples)", best.Pattern, best.Accuracy, best.Samples))
	}

	if bid := report.ByMetric[string(domain.MetricBidDepth)]; bid.Total >= a.cfg.MinPatternSamples {
		out = append(out, fmt.Sprintf("bid depth alerts: %.1f%% accurate for YES outcomes", bid.Accuracy()))
	}
	if ask := report.ByMetric[string(domain.MetricAskDepth)]; ask.Total >= a.cfg.MinPatternSamples {
		out = append(out, fmt.Sprintf("ask depth alerts: %.1f%% accurate for NO outcomes", ask.Accuracy()))
	}
	if mom := report.ByMetric[string(domain.MetricPriceMomentum)]; mom.Total >= a.cfg.MinPatternSamples {
		out = append(out, fmt.Sprintf("price momentum alerts: %.1f%% accurate", mom.Accuracy()))
	}

	for _, key := range sortedKeys(report.Combined) {
		stats := report.Combined[key]
		if stats.Total >= a.cfg.MinPatternSamples && stats.Accuracy() >= 75 {
			out = append(out, fmt.Sprintf("strong combined signal: %q at %.0f%% (%d samples)", key, stats.Accuracy(), stats.Total))
		}
	}
	return out
}

// alertForecast maps an alert onto the outcome it implies. Correlation
// signals have no single-market forecast.
func alertForecast(a domain.Alert) (domain.Outcome, bool) {
	switch a.Metric {
	case domain.MetricBidDepth:
		return domain.OutcomeYes, true
	case domain.MetricAskDepth:
		return domain.OutcomeNo, true
	case domain.MetricPriceMomentum:
		if a.Direction == domain.DirectionDown {
			return domain.OutcomeNo, true
		}
		return domain.OutcomeYes, true
	default:
		return "", false
	}
}

// magnitudeBucket labels an alert's strength. Depth alerts bucket on the
// spike ratio; momentum alerts on the absolute price shift in points.
func magnitudeBucket(a domain.Alert) string {
	if a.Metric == domain.MetricPriceMomentum {
		shift := math.Abs(a.Ratio)
		switch {
		case shift >= 0.25:
			return "25pp+"
		case shift >= 0.15:
			return "15-25pp"
		default:
			return "10-15pp"
		}
	}
	switch {
	case a.Ratio >= 10:
		return "10x+"
	case a.Ratio >= 5:
		return "5-10x"
	default:
		return "3-5x"
	}
}

func combinedKey(a, b domain.Metric) string {
	if string(a) > string(b) {
		a, b = b, a
	}
	return string(a) + " + " + string(b)
}

func record(m map[string]PatternStats, key string, hit bool) {
	stats := m[key]
	stats.Total++
	if hit {
		stats.Correct++
	}
	m[key] = stats
}

func sortedKeys(m map[string]PatternStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
