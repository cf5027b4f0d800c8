package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/polysignal/engine/internal/domain"
)

type fakeSnapshotStore struct {
	snaps  map[string][]domain.MarketSnapshot
	failOn map[string]error
}

func (f *fakeSnapshotStore) GetSnapshots(_ context.Context, marketID string, since time.Time) ([]domain.MarketSnapshot, error) {
	if err, ok := f.failOn[marketID]; ok {
		return nil, err
	}
	var out []domain.MarketSnapshot
	for _, s := range f.snaps[marketID] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSnapshotStore) GetLatest(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	ss := f.snaps[marketID]
	if len(ss) == 0 {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return ss[len(ss)-1], nil
}

func (f *fakeSnapshotStore) LatestPrice(_ context.Context, marketID string) (float64, error) {
	ss := f.snaps[marketID]
	if len(ss) == 0 {
		return 0, domain.ErrNotFound
	}
	return ss[len(ss)-1].YesPrice, nil
}

func (f *fakeSnapshotStore) ListMarketsWithHistory(_ context.Context, minCount int, _ time.Time) ([]string, error) {
	var ids []string
	for id, ss := range f.snaps {
		if len(ss) >= minCount {
			ids = append(ids, id)
		}
	}
	for id := range f.failOn {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSnapshotStore) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []domain.Alert
	failed bool
}

func (f *fakeAlertStore) InsertIfNoneSince(_ context.Context, alert domain.Alert, since time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return "", errors.New("write refused")
	}
	for _, a := range f.alerts {
		if a.MarketID == alert.MarketID && a.Metric == alert.Metric && a.Kind == alert.Kind && a.CreatedAt.After(since) {
			return "", domain.ErrDuplicateAlert
		}
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	f.alerts = append(f.alerts, alert)
	return alert.ID, nil
}

func (f *fakeAlertStore) MarkNotified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Notified = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeAlertStore) ListRecent(_ context.Context, _ domain.ListOpts) ([]domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Alert(nil), f.alerts...), nil
}

func (f *fakeAlertStore) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.Alert, error) {
	return nil, nil
}

func (f *fakeAlertStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func testConfig() Config {
	return Config{
		SpikeThresholdRatio:     3.0,
		MinOrderbookDepth:       500,
		BaselineHours:           24,
		MinSnapshotsForBaseline: 12,
		DuplicateAlertWindow:    6 * time.Hour,
		MinSignalQuality:        50,

		ContrarianInfluxThreshold:   2.5,
		ContrarianMinPriorRatio:     1.5,
		ContrarianBaselineSnapshots: 6,
		ContrarianMinPriceShift:     0.03,

		MomentumThreshold: 0.10,
		MomentumLookback:  6,
		MinBaselinePrice:  0.05,
		MaxBaselinePrice:  0.95,

		Parallelism: 4,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flatSeries builds count snapshots at 30-minute spacing ending at end, with
// a constant price and depth, then appends one current snapshot with the
// given overrides.
func flatSeries(marketID string, count int, end time.Time, price, bid, ask float64) []domain.MarketSnapshot {
	snaps := make([]domain.MarketSnapshot, 0, count)
	for i := 0; i < count; i++ {
		ts := end.Add(-time.Duration(count-i) * 30 * time.Minute)
		snaps = append(snaps, domain.MarketSnapshot{
			MarketID:  marketID,
			Timestamp: ts,
			YesPrice:  price,
			BidDepth:  bid,
			AskDepth:  ask,
		})
	}
	return snaps
}

func newTestDetector(snaps *fakeSnapshotStore, alerts *fakeAlertStore, at time.Time) *Detector {
	d := New(testConfig(), snaps, alerts, discardLogger())
	d.now = func() time.Time { return at }
	return d
}

func TestEvaluateMarketSkipsShortBaseline(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	series := flatSeries("mkt-1", 8, now, 0.50, 1000, 1000)
	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Skipped {
		t.Fatal("short baseline must skip the market")
	}
	if len(alerts.alerts) != 0 {
		t.Fatalf("no alerts expected, got %d", len(alerts.alerts))
	}
}

func TestEvaluateMarketSpike(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		currentBid   float64
		currentPrice float64
		wantAlert    bool
	}{
		{"ratio and floor met", 3200, 0.55, true},
		{"below depth floor", 200, 0.55, false},
		{"ratio below threshold", 2000, 0.55, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := flatSeries("mkt-1", 13, now, 0.50, 1000, 900)
			cur := &series[len(series)-1]
			cur.BidDepth = tt.currentBid
			cur.YesPrice = tt.currentPrice

			snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
			alerts := &fakeAlertStore{}
			d := newTestDetector(snaps, alerts, now)

			res, err := d.EvaluateMarket(context.Background(), "mkt-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var spike *domain.Alert
			for i := range res.Alerts {
				if res.Alerts[i].Kind == domain.AlertKindSpike && res.Alerts[i].Metric == domain.MetricBidDepth {
					spike = &res.Alerts[i]
				}
			}
			if tt.wantAlert && spike == nil {
				t.Fatal("expected a bid-depth spike alert")
			}
			if !tt.wantAlert && spike != nil {
				t.Fatalf("unexpected spike alert: %+v", *spike)
			}
			if spike != nil {
				if spike.Ratio < 3.0 {
					t.Fatalf("ratio = %v, want >= 3.0", spike.Ratio)
				}
				if spike.SignalQuality < 0 || spike.SignalQuality > 100 {
					t.Fatalf("quality %d out of range", spike.SignalQuality)
				}
			}
		})
	}
}

func TestEvaluateMarketDedup(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	series := flatSeries("mkt-1", 13, now, 0.50, 1000, 900)
	series[len(series)-1].BidDepth = 3200
	series[len(series)-1].YesPrice = 0.55

	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	first, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Alerts) == 0 {
		t.Fatal("first evaluation must raise an alert")
	}

	// Re-evaluate within the suppression window.
	d.now = func() time.Time { return now.Add(time.Hour) }
	second, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range second.Alerts {
		if a.Metric == domain.MetricBidDepth {
			t.Fatalf("duplicate bid-depth alert was not suppressed: %+v", a)
		}
	}
	if second.Suppressed == 0 {
		t.Fatal("expected at least one suppression")
	}

	// Past the window, the same condition alerts again.
	d.now = func() time.Time { return now.Add(7 * time.Hour) }
	// Shift the series so the window still holds enough points.
	shifted := flatSeries("mkt-1", 13, now.Add(7*time.Hour), 0.50, 1000, 900)
	shifted[len(shifted)-1].BidDepth = 3200
	shifted[len(shifted)-1].YesPrice = 0.55
	snaps.snaps["mkt-1"] = shifted

	third, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, a := range third.Alerts {
		if a.Metric == domain.MetricBidDepth && a.Kind == domain.AlertKindSpike {
			found = true
		}
	}
	if !found {
		t.Fatal("alert expected once the suppression window has passed")
	}
}

func TestQualityScoreClamped(t *testing.T) {
	d := New(testConfig(), nil, nil, discardLogger())

	tests := []struct {
		name      string
		f         qualityFactors
		wantUpper int
		wantLower int
	}{
		{
			"extreme inputs cap at 100",
			qualityFactors{ratio: 1e9, threshold: 3.0, z: 1e9, depth: 1e9, concurs: true,
				imbalance: 1e9, volatility: 0, velocity: 1e9, rsi: 99},
			100, 100,
		},
		{
			"at threshold with nothing else",
			qualityFactors{ratio: 3.0, threshold: 3.0, volatility: -1, rsi: -1},
			0, 0,
		},
		{
			"negative excess floors at zero",
			qualityFactors{ratio: 0.1, threshold: 3.0, volatility: -1, rsi: -1},
			0, 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.qualityScore(tt.f)
			if got < tt.wantLower || got > tt.wantUpper {
				t.Fatalf("qualityScore = %d, want in [%d,%d]", got, tt.wantLower, tt.wantUpper)
			}
		})
	}
}

// TestQualityScoreContextFactors: book skew, calm markets, series velocity,
// and RSI extremes each raise the score over an otherwise identical signal.
func TestQualityScoreContextFactors(t *testing.T) {
	d := New(testConfig(), nil, nil, discardLogger())

	base := qualityFactors{ratio: 6.0, threshold: 3.0, z: 1.5, depth: 2000, volatility: -1, rsi: -1}
	baseScore := d.qualityScore(base)

	tests := []struct {
		name  string
		mut   func(f *qualityFactors)
		bonus int
	}{
		{"extreme bid skew", func(f *qualityFactors) { f.imbalance = 5.0 }, 10},
		{"extreme ask skew scores the same", func(f *qualityFactors) { f.imbalance = 0.2 }, 10},
		{"flat calm market", func(f *qualityFactors) { f.volatility = 0 }, 10},
		{"noisy market adds nothing", func(f *qualityFactors) { f.volatility = 0.20 }, 0},
		{"extreme velocity", func(f *qualityFactors) { f.velocity = 1.0 }, 5},
		{"overbought rsi", func(f *qualityFactors) { f.rsi = 80 }, 5},
		{"oversold rsi", func(f *qualityFactors) { f.rsi = 20 }, 5},
		{"neutral rsi adds nothing", func(f *qualityFactors) { f.rsi = 50 }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.mut(&f)
			got := d.qualityScore(f)
			if got != baseScore+tt.bonus {
				t.Fatalf("qualityScore = %d, want %d (+%d over %d)", got, baseScore+tt.bonus, tt.bonus, baseScore)
			}
		})
	}
}

func TestContrarianAlert(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Ask-heavy consensus, then a big bid influx with a real price move.
	series := flatSeries("mkt-1", 13, now, 0.40, 800, 2000)
	cur := &series[len(series)-1]
	cur.BidDepth = 2400 // 3x prior bid mean
	cur.YesPrice = 0.46 // +0.06 over the short window

	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var contrarian *domain.Alert
	for i := range res.Alerts {
		if res.Alerts[i].Kind == domain.AlertKindContrarian {
			contrarian = &res.Alerts[i]
		}
	}
	if contrarian == nil {
		t.Fatal("expected a contrarian alert")
	}
	if contrarian.Metric != domain.MetricBidDepth {
		t.Fatalf("metric = %s, want bid depth", contrarian.Metric)
	}
	if contrarian.Direction != domain.DirectionUp {
		t.Fatalf("direction = %s, want up", contrarian.Direction)
	}
}

// TestSpikeAndContrarianCoexist: a bid influx strong enough to trip both
// rules must persist one alert per kind. The spike insert landing first must
// not suppress the contrarian alert for the same (market, metric).
func TestSpikeAndContrarianCoexist(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	series := flatSeries("mkt-1", 13, now, 0.40, 800, 2000)
	cur := &series[len(series)-1]
	cur.BidDepth = 2400 // 3x prior bid mean, at the spike threshold
	cur.YesPrice = 0.46

	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Suppressed != 0 {
		t.Fatalf("suppressed = %d, want 0", res.Suppressed)
	}

	kinds := map[domain.AlertKind]int{}
	for _, a := range alerts.alerts {
		if a.MarketID == "mkt-1" && a.Metric == domain.MetricBidDepth {
			kinds[a.Kind]++
		}
	}
	if kinds[domain.AlertKindSpike] != 1 || kinds[domain.AlertKindContrarian] != 1 {
		t.Fatalf("want one spike and one contrarian bid-depth alert, got %v", kinds)
	}
}

func TestContrarianRequiresPriceShift(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Same influx and skew, but the price never moves.
	series := flatSeries("mkt-1", 13, now, 0.40, 800, 2000)
	series[len(series)-1].BidDepth = 2400

	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range res.Alerts {
		if a.Kind == domain.AlertKindContrarian {
			t.Fatalf("contrarian alert without a price shift: %+v", a)
		}
	}
}

func TestMomentumAlert(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	series := flatSeries("mkt-1", 13, now, 0.50, 2000, 1000)
	series[len(series)-1].YesPrice = 0.56 // +12% vs 0.50 reference

	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mom *domain.Alert
	for i := range res.Alerts {
		if res.Alerts[i].Kind == domain.AlertKindMomentum {
			mom = &res.Alerts[i]
		}
	}
	if mom == nil {
		t.Fatal("expected a momentum alert")
	}
	if mom.Direction != domain.DirectionUp {
		t.Fatalf("direction = %s, want up", mom.Direction)
	}
}

func TestMomentumIgnoresNearSettledMarkets(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// 0.97 reference is outside [0.05, 0.95]; momentum on it is noise.
	series := flatSeries("mkt-1", 13, now, 0.97, 2000, 1000)
	series[len(series)-1].YesPrice = 0.85

	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range res.Alerts {
		if a.Kind == domain.AlertKindMomentum {
			t.Fatalf("momentum alert on a near-settled market: %+v", a)
		}
	}
}

func TestRunIsolatesPerMarketFailures(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	good := flatSeries("mkt-good", 13, now, 0.50, 1000, 900)
	good[len(good)-1].BidDepth = 3200
	good[len(good)-1].YesPrice = 0.55

	snaps := &fakeSnapshotStore{
		snaps:  map[string][]domain.MarketSnapshot{"mkt-good": good},
		failOn: map[string]error{"mkt-bad": fmt.Errorf("connection reset")},
	}
	alerts := &fakeAlertStore{}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Key != "mkt-bad" {
		t.Fatalf("want exactly one contained error for mkt-bad, got %+v", res.Errors)
	}
	if !errors.Is(res.Errors[0].Err, domain.ErrSourceUnavailable) {
		t.Fatalf("error not tagged as source unavailable: %v", res.Errors[0].Err)
	}
	if len(res.Alerts) == 0 {
		t.Fatal("healthy market must still be evaluated")
	}
}

func TestStoreWriteFailureIsContained(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	series := flatSeries("mkt-1", 13, now, 0.50, 1000, 900)
	series[len(series)-1].BidDepth = 3200
	series[len(series)-1].YesPrice = 0.55

	snaps := &fakeSnapshotStore{snaps: map[string][]domain.MarketSnapshot{"mkt-1": series}}
	alerts := &fakeAlertStore{failed: true}
	d := newTestDetector(snaps, alerts, now)

	res, err := d.EvaluateMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("write failure must not abort the market evaluation: %v", err)
	}
	if len(res.Errors) == 0 {
		t.Fatal("write failure must be recorded in the result")
	}
	if !errors.Is(res.Errors[0].Err, domain.ErrStoreWrite) {
		t.Fatalf("error not tagged as store write failure: %v", res.Errors[0].Err)
	}
}
