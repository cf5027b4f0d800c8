package report

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/polysignal/engine/internal/domain"
)

type fakeAlertStore struct {
	alerts []domain.Alert
}

func (f *fakeAlertStore) InsertIfNoneSince(_ context.Context, a domain.Alert, _ time.Time) (string, error) {
	return a.ID, nil
}

func (f *fakeAlertStore) MarkNotified(_ context.Context, _ string) error { return nil }

func (f *fakeAlertStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range f.alerts {
		if opts.Since != nil && a.CreatedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAlertStore) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.Alert, error) {
	return nil, nil
}

func (f *fakeAlertStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakePredictionStore struct {
	resolved []domain.Prediction
}

func (f *fakePredictionStore) ListUnresolved(_ context.Context, _ time.Time) ([]domain.Prediction, error) {
	return nil, nil
}

func (f *fakePredictionStore) Resolve(_ context.Context, _ int64, _ domain.Outcome, _ *bool) (bool, error) {
	return false, nil
}

func (f *fakePredictionStore) ListResolved(_ context.Context, _ time.Time) ([]domain.Prediction, error) {
	return f.resolved, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resolvedPrediction(marketID string, outcome domain.Outcome, at time.Time) domain.Prediction {
	return domain.Prediction{
		MarketID:   marketID,
		Resolved:   true,
		Outcome:    outcome,
		ResolvedAt: &at,
	}
}

func testAnalyzer(alerts *fakeAlertStore, predictions *fakePredictionStore, now time.Time) *Analyzer {
	a := NewAnalyzer(Config{
		AnalysisDays:      30,
		MinPatternSamples: 2,
		CombinedWindow:    6 * time.Hour,
	}, alerts, predictions, discard())
	a.now = func() time.Time { return now }
	return a
}

func TestGenerateScoresForecastsAgainstOutcomes(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	alerts := &fakeAlertStore{alerts: []domain.Alert{
		// Bid spike forecasts YES; market resolved YES.
		{ID: "a1", MarketID: "mkt-yes", Metric: domain.MetricBidDepth, Kind: domain.AlertKindSpike, Ratio: 4.0, CreatedAt: now.Add(-48 * time.Hour)},
		// Ask spike forecasts NO; market resolved YES, so a miss.
		{ID: "a2", MarketID: "mkt-yes", Metric: domain.MetricAskDepth, Kind: domain.AlertKindSpike, Ratio: 3.5, CreatedAt: now.Add(-24 * time.Hour)},
		// Downward momentum forecasts NO; market resolved NO.
		{ID: "a3", MarketID: "mkt-no", Metric: domain.MetricPriceMomentum, Kind: domain.AlertKindMomentum, Ratio: -0.12, Direction: domain.DirectionDown, CreatedAt: now.Add(-12 * time.Hour)},
		// Unresolved market contributes nothing.
		{ID: "a4", MarketID: "mkt-open", Metric: domain.MetricBidDepth, Kind: domain.AlertKindSpike, Ratio: 6.0, CreatedAt: now.Add(-6 * time.Hour)},
	}}
	predictions := &fakePredictionStore{resolved: []domain.Prediction{
		resolvedPrediction("mkt-yes", domain.OutcomeYes, now.Add(-time.Hour)),
		resolvedPrediction("mkt-no", domain.OutcomeNo, now.Add(-time.Hour)),
	}}

	rep, err := testAnalyzer(alerts, predictions, now).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if rep.TotalAlerts != 4 {
		t.Errorf("TotalAlerts = %d, want 4", rep.TotalAlerts)
	}
	if rep.ResolvedMarkets != 2 {
		t.Errorf("ResolvedMarkets = %d, want 2", rep.ResolvedMarkets)
	}
	if rep.Forecasts != 3 || rep.Correct != 2 {
		t.Fatalf("Forecasts/Correct = %d/%d, want 3/2", rep.Forecasts, rep.Correct)
	}
	if rep.OverallAccuracy != 66.7 {
		t.Errorf("OverallAccuracy = %v, want 66.7", rep.OverallAccuracy)
	}

	bid := rep.ByMetric[string(domain.MetricBidDepth)]
	if bid.Total != 1 || bid.Correct != 1 {
		t.Errorf("bid depth stats = %+v, want 1/1", bid)
	}
	ask := rep.ByMetric[string(domain.MetricAskDepth)]
	if ask.Total != 1 || ask.Correct != 0 {
		t.Errorf("ask depth stats = %+v, want 1/0", ask)
	}
}

func TestGenerateBucketsMagnitude(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	alerts := &fakeAlertStore{alerts: []domain.Alert{
		{ID: "a1", MarketID: "m1", Metric: domain.MetricBidDepth, Ratio: 3.2, CreatedAt: now.Add(-time.Hour)},
		{ID: "a2", MarketID: "m1", Metric: domain.MetricBidDepth, Ratio: 7.0, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "a3", MarketID: "m1", Metric: domain.MetricBidDepth, Ratio: 12.0, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "a4", MarketID: "m1", Metric: domain.MetricPriceMomentum, Ratio: -0.30, Direction: domain.DirectionDown, CreatedAt: now.Add(-4 * time.Hour)},
	}}
	predictions := &fakePredictionStore{resolved: []domain.Prediction{
		resolvedPrediction("m1", domain.OutcomeYes, now),
	}}

	rep, err := testAnalyzer(alerts, predictions, now).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, bucket := range []string{
		string(domain.MetricBidDepth) + " 3-5x",
		string(domain.MetricBidDepth) + " 5-10x",
		string(domain.MetricBidDepth) + " 10x+",
		string(domain.MetricPriceMomentum) + " 25pp+",
	} {
		if stats := rep.ByMagnitude[bucket]; stats.Total != 1 {
			t.Errorf("bucket %q total = %d, want 1", bucket, stats.Total)
		}
	}
}

func TestGenerateCombinedPatterns(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	alerts := &fakeAlertStore{alerts: []domain.Alert{
		// Bid spike then momentum within the window: combined pattern, and
		// the earlier alert's YES forecast is scored against the outcome.
		{ID: "a1", MarketID: "m1", Metric: domain.MetricBidDepth, Ratio: 4.0, CreatedAt: now.Add(-5 * time.Hour)},
		{ID: "a2", MarketID: "m1", Metric: domain.MetricPriceMomentum, Ratio: 0.12, Direction: domain.DirectionUp, CreatedAt: now.Add(-3 * time.Hour)},
		// Second pair on another market, outside the window: no pair.
		{ID: "a3", MarketID: "m2", Metric: domain.MetricBidDepth, Ratio: 4.0, CreatedAt: now.Add(-20 * time.Hour)},
		{ID: "a4", MarketID: "m2", Metric: domain.MetricPriceMomentum, Ratio: 0.12, Direction: domain.DirectionUp, CreatedAt: now.Add(-2 * time.Hour)},
	}}
	predictions := &fakePredictionStore{resolved: []domain.Prediction{
		resolvedPrediction("m1", domain.OutcomeYes, now),
		resolvedPrediction("m2", domain.OutcomeYes, now),
	}}

	rep, err := testAnalyzer(alerts, predictions, now).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	key := combinedKey(domain.MetricBidDepth, domain.MetricPriceMomentum)
	stats, ok := rep.Combined[key]
	if !ok {
		t.Fatalf("combined pattern %q missing; got %v", key, rep.Combined)
	}
	if stats.Total != 1 || stats.Correct != 1 {
		t.Errorf("combined stats = %+v, want 1/1", stats)
	}
}

func TestRankPatternsRequiresMinSamples(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// Two 3-5x bid spikes on resolved-YES markets meet the 2-sample floor;
	// the single 10x+ spike does not.
	alerts := &fakeAlertStore{alerts: []domain.Alert{
		{ID: "a1", MarketID: "m1", Metric: domain.MetricBidDepth, Ratio: 3.5, CreatedAt: now.Add(-time.Hour)},
		{ID: "a2", MarketID: "m2", Metric: domain.MetricBidDepth, Ratio: 4.0, CreatedAt: now.Add(-time.Hour)},
		{ID: "a3", MarketID: "m1", Metric: domain.MetricBidDepth, Ratio: 15.0, CreatedAt: now.Add(-2 * time.Hour)},
	}}
	predictions := &fakePredictionStore{resolved: []domain.Prediction{
		resolvedPrediction("m1", domain.OutcomeYes, now),
		resolvedPrediction("m2", domain.OutcomeYes, now),
	}}

	rep, err := testAnalyzer(alerts, predictions, now).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(rep.BestPatterns) != 1 {
		t.Fatalf("BestPatterns = %v, want exactly one qualifying pattern", rep.BestPatterns)
	}
	best := rep.BestPatterns[0]
	if best.Pattern != string(domain.MetricBidDepth)+" 3-5x" || best.Samples != 2 || best.Accuracy != 100 {
		t.Errorf("best pattern = %+v", best)
	}
}

func TestInsightsReportEmptyWindow(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	rep, err := testAnalyzer(&fakeAlertStore{}, &fakePredictionStore{}, now).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(rep.Insights) != 1 || rep.Insights[0] != "no resolved forecasts in the window yet" {
		t.Errorf("Insights = %v", rep.Insights)
	}
}

func TestAlertForecastDirections(t *testing.T) {
	tests := []struct {
		name  string
		alert domain.Alert
		want  domain.Outcome
		ok    bool
	}{
		{"bid depth forecasts yes", domain.Alert{Metric: domain.MetricBidDepth}, domain.OutcomeYes, true},
		{"ask depth forecasts no", domain.Alert{Metric: domain.MetricAskDepth}, domain.OutcomeNo, true},
		{"upward momentum forecasts yes", domain.Alert{Metric: domain.MetricPriceMomentum, Direction: domain.DirectionUp}, domain.OutcomeYes, true},
		{"downward momentum forecasts no", domain.Alert{Metric: domain.MetricPriceMomentum, Direction: domain.DirectionDown}, domain.OutcomeNo, true},
		{"correlation has no forecast", domain.Alert{Metric: domain.MetricCorrelation}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := alertForecast(tt.alert)
			if got != tt.want || ok != tt.ok {
				t.Errorf("alertForecast() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
