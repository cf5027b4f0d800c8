package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/polysignal/engine/internal/domain"
)

type fakeMarketStore struct {
	markets map[string]domain.Market
}

func (f *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range f.markets {
		if m.Status == domain.MarketStatusActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMarketStore) Count(_ context.Context) (int64, error) {
	return int64(len(f.markets)), nil
}

type fakeSnapshotStore struct {
	ready []string
}

func (f *fakeSnapshotStore) GetSnapshots(_ context.Context, _ string, _ time.Time) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) GetLatest(_ context.Context, _ string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}

func (f *fakeSnapshotStore) LatestPrice(_ context.Context, _ string) (float64, error) {
	return 0, domain.ErrNotFound
}

func (f *fakeSnapshotStore) ListMarketsWithHistory(_ context.Context, _ int, _ time.Time) ([]string, error) {
	return f.ready, nil
}

func (f *fakeSnapshotStore) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeGroupStore struct {
	groups []domain.CorrelationGroup
}

func (f *fakeGroupStore) List(_ context.Context) ([]domain.CorrelationGroup, error) {
	return f.groups, nil
}

type fakePriceCache struct {
	prices map[string]float64
	err    error
}

func (f *fakePriceCache) SetPrice(_ context.Context, _ string, _ float64, _ time.Time) error {
	return nil
}

func (f *fakePriceCache) GetPrices(_ context.Context, ids []string) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]float64{}
	for _, id := range ids {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeSignalBus struct {
	entries []domain.StreamMessage
}

func (f *fakeSignalBus) Publish(_ context.Context, _ string, _ []byte) error { return nil }

func (f *fakeSignalBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (f *fakeSignalBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }

func (f *fakeSignalBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return f.entries, nil
}

func testStatusReporter(markets *fakeMarketStore, snaps *fakeSnapshotStore, alerts *fakeAlertStore,
	groups *fakeGroupStore, prices domain.PriceCache, bus domain.SignalBus, now time.Time) *StatusReporter {
	r := NewStatusReporter(StatusConfig{
		MinSnapshotsForBaseline: 12,
		BaselineHours:           24,
		SignalStream:            "signals:log",
		RecentAlerts:            3,
	}, markets, snaps, alerts, groups, prices, bus, discard())
	r.now = func() time.Time { return now }
	return r
}

func TestCollectAssemblesSnapshot(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"mkt-1": {ID: "mkt-1", Question: "Will it rain?", Status: domain.MarketStatusActive},
		"mkt-2": {ID: "mkt-2", Question: "Closed one", Status: domain.MarketStatusClosed},
	}}
	snaps := &fakeSnapshotStore{ready: []string{"mkt-1"}}
	alerts := &fakeAlertStore{alerts: []domain.Alert{
		{ID: "a1", MarketID: "mkt-1", Metric: domain.MetricBidDepth, Kind: domain.AlertKindSpike, Ratio: 4.2, SignalQuality: 70, CreatedAt: now.Add(-time.Hour)},
		{ID: "a2", MarketID: "mkt-1", Metric: domain.MetricPriceMomentum, Kind: domain.AlertKindMomentum, Ratio: 0.15, SignalQuality: 60, CreatedAt: now.Add(-2 * time.Hour)},
	}}
	groups := &fakeGroupStore{groups: []domain.CorrelationGroup{{ID: "g1"}}}
	prices := &fakePriceCache{prices: map[string]float64{"mkt-1": 0.42}}
	bus := &fakeSignalBus{entries: []domain.StreamMessage{{ID: "1-0"}, {ID: "2-0"}}}

	status, err := testStatusReporter(markets, snaps, alerts, groups, prices, bus, now).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if status.MarketsTracked != 2 || status.ActiveMarkets != 1 || status.MarketsReady != 1 {
		t.Errorf("markets tracked/active/ready = %d/%d/%d, want 2/1/1",
			status.MarketsTracked, status.ActiveMarkets, status.MarketsReady)
	}
	if status.Alerts24h != 2 {
		t.Errorf("Alerts24h = %d, want 2", status.Alerts24h)
	}
	if status.AlertsByKind[string(domain.AlertKindSpike)] != 1 || status.AlertsByKind[string(domain.AlertKindMomentum)] != 1 {
		t.Errorf("AlertsByKind = %v", status.AlertsByKind)
	}
	if len(status.RecentAlerts) != 2 {
		t.Fatalf("RecentAlerts = %d rows, want 2", len(status.RecentAlerts))
	}
	if status.RecentAlerts[0].Question != "Will it rain?" {
		t.Errorf("recent alert question = %q", status.RecentAlerts[0].Question)
	}
	if status.Groups != 1 {
		t.Errorf("Groups = %d, want 1", status.Groups)
	}
	if status.LivePrices["mkt-1"] != 0.42 {
		t.Errorf("LivePrices = %v", status.LivePrices)
	}
	if status.SignalLogDepth != 2 {
		t.Errorf("SignalLogDepth = %d, want 2", status.SignalLogDepth)
	}
	if len(status.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", status.Warnings)
	}
}

func TestCollectWarnsOnEmptyStores(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	status, err := testStatusReporter(
		&fakeMarketStore{}, &fakeSnapshotStore{}, &fakeAlertStore{}, &fakeGroupStore{},
		nil, nil, now,
	).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if len(status.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2 entries", status.Warnings)
	}
	if !strings.Contains(status.Warnings[0], "no markets tracked") {
		t.Errorf("warning[0] = %q", status.Warnings[0])
	}
	if !strings.Contains(status.Warnings[1], "13 snapshots") {
		t.Errorf("warning[1] = %q", status.Warnings[1])
	}
	if status.LivePrices != nil || status.SignalLogDepth != 0 {
		t.Errorf("optional sections populated without redis: %+v", status)
	}
}

func TestCollectDegradesWhenCacheFails(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"mkt-1": {ID: "mkt-1", Status: domain.MarketStatusActive},
	}}
	snaps := &fakeSnapshotStore{ready: []string{"mkt-1"}}
	alerts := &fakeAlertStore{alerts: []domain.Alert{
		{ID: "a1", MarketID: "mkt-1", Metric: domain.MetricBidDepth, Kind: domain.AlertKindSpike, CreatedAt: now.Add(-time.Hour)},
	}}
	prices := &fakePriceCache{err: errors.New("connection refused")}

	status, err := testStatusReporter(markets, snaps, alerts, &fakeGroupStore{}, prices, nil, now).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if len(status.Warnings) != 1 || !strings.Contains(status.Warnings[0], "price cache unavailable") {
		t.Errorf("Warnings = %v, want one price-cache warning", status.Warnings)
	}
	if status.Alerts24h != 1 {
		t.Errorf("Alerts24h = %d, want 1", status.Alerts24h)
	}
}

func TestCollectCapsRecentAlertRows(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	alerts := &fakeAlertStore{}
	for i := 0; i < 6; i++ {
		alerts.alerts = append(alerts.alerts, domain.Alert{
			ID:        string(rune('a' + i)),
			MarketID:  "mkt-1",
			Metric:    domain.MetricBidDepth,
			Kind:      domain.AlertKindSpike,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	markets := &fakeMarketStore{markets: map[string]domain.Market{
		"mkt-1": {ID: "mkt-1", Status: domain.MarketStatusActive},
	}}
	snaps := &fakeSnapshotStore{ready: []string{"mkt-1"}}

	status, err := testStatusReporter(markets, snaps, alerts, &fakeGroupStore{}, nil, nil, now).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(status.RecentAlerts) != 3 {
		t.Errorf("RecentAlerts = %d rows, want the configured cap of 3", len(status.RecentAlerts))
	}
}
