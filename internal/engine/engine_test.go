package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/polysignal/engine/internal/correlator"
	"github.com/polysignal/engine/internal/detector"
	"github.com/polysignal/engine/internal/domain"
	"github.com/polysignal/engine/internal/notify"
)

type stubDetection struct {
	result detector.CycleResult
	err    error
}

func (s stubDetection) Run(_ context.Context) (detector.CycleResult, error) {
	return s.result, s.err
}

type stubCorrelation struct {
	result correlator.CycleResult
	err    error
}

func (s stubCorrelation) Run(_ context.Context) (correlator.CycleResult, error) {
	return s.result, s.err
}

type stubResolution struct {
	report domain.ResolutionReport
	err    error
}

func (s stubResolution) Run(_ context.Context) (domain.ResolutionReport, error) {
	return s.report, s.err
}

type recordingAlertStore struct {
	notified []string
}

func (r *recordingAlertStore) InsertIfNoneSince(_ context.Context, a domain.Alert, _ time.Time) (string, error) {
	return a.ID, nil
}

func (r *recordingAlertStore) MarkNotified(_ context.Context, id string) error {
	r.notified = append(r.notified, id)
	return nil
}

func (r *recordingAlertStore) ListRecent(_ context.Context, _ domain.ListOpts) ([]domain.Alert, error) {
	return nil, nil
}

func (r *recordingAlertStore) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.Alert, error) {
	return nil, nil
}

func (r *recordingAlertStore) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubSnapshots struct {
	latest map[string]domain.MarketSnapshot
}

func (s *stubSnapshots) GetSnapshots(_ context.Context, _ string, _ time.Time) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (s *stubSnapshots) GetLatest(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	snap, ok := s.latest[marketID]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (s *stubSnapshots) LatestPrice(_ context.Context, _ string) (float64, error) {
	return 0, domain.ErrNotFound
}

func (s *stubSnapshots) ListMarketsWithHistory(_ context.Context, _ int, _ time.Time) ([]string, error) {
	return nil, nil
}

func (s *stubSnapshots) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (s *stubSnapshots) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type recordingSender struct {
	sent []string
	fail bool
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	if r.fail {
		return errors.New("webhook down")
	}
	r.sent = append(r.sent, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

type recordingBus struct {
	published [][]byte
	appended  [][]byte
}

func (r *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	r.published = append(r.published, payload)
	return nil
}

func (r *recordingBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (r *recordingBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	r.appended = append(r.appended, payload)
	return nil
}

func (r *recordingBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordingPriceCache struct {
	prices map[string]float64
}

func (r *recordingPriceCache) SetPrice(_ context.Context, marketID string, price float64, _ time.Time) error {
	if r.prices == nil {
		r.prices = map[string]float64{}
	}
	r.prices[marketID] = price
	return nil
}

func (r *recordingPriceCache) GetPrices(_ context.Context, _ []string) (map[string]float64, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(det DetectionRunner, corr CorrelationRunner, res ResolutionRunner,
	alerts domain.AlertStore, snaps domain.SnapshotStore,
	sender notify.Sender, bus domain.SignalBus, prices domain.PriceCache) *Engine {

	var notifier *notify.Notifier
	if sender != nil {
		notifier = notify.NewNotifier([]notify.Sender{sender}, nil, testLogger())
	}
	return New(Config{MinSignalQuality: 50, SignalChannel: "signals", SignalStream: "signals:log"},
		det, corr, res, alerts, snaps, nil, notifier, bus, prices, testLogger())
}

func TestRunDetectionCycleGatesOnQuality(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	det := stubDetection{result: detector.CycleResult{
		Evaluated: 2,
		Alerts: []domain.Alert{
			{ID: "a-high", MarketID: "mkt-1", Metric: domain.MetricBidDepth, Kind: domain.AlertKindSpike, SignalQuality: 72, CreatedAt: now},
			{ID: "a-low", MarketID: "mkt-2", Metric: domain.MetricAskDepth, Kind: domain.AlertKindSpike, SignalQuality: 30, CreatedAt: now},
		},
	}}
	corr := stubCorrelation{result: correlator.CycleResult{
		Groups: 1,
		Signals: []domain.ArbitrageSignal{
			{ID: "s-1", GroupID: "grp-1", Divergence: 0.15, Severity: 1.5, Timestamp: now},
		},
	}}

	alerts := &recordingAlertStore{}
	snaps := &stubSnapshots{latest: map[string]domain.MarketSnapshot{
		"mkt-1": {MarketID: "mkt-1", YesPrice: 0.61, Timestamp: now},
		"mkt-2": {MarketID: "mkt-2", YesPrice: 0.40, Timestamp: now},
	}}
	sender := &recordingSender{}
	bus := &recordingBus{}
	cache := &recordingPriceCache{}

	e := testEngine(det, corr, stubResolution{}, alerts, snaps, sender, bus, cache)

	report, err := e.RunDetectionCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Notified != 1 {
		t.Fatalf("notified = %d, want 1 (only the high-quality alert)", report.Notified)
	}
	if len(alerts.notified) != 1 || alerts.notified[0] != "a-high" {
		t.Fatalf("marked notified = %v, want [a-high]", alerts.notified)
	}
	// High-quality alert + arbitrage signal both reach the sender and bus.
	if len(sender.sent) != 2 {
		t.Fatalf("sender deliveries = %d, want 2", len(sender.sent))
	}
	if len(bus.published) != 2 || len(bus.appended) != 2 {
		t.Fatalf("bus publish/append = %d/%d, want 2/2", len(bus.published), len(bus.appended))
	}
	// Both alerted markets get their latest price cached, regardless of quality.
	if cache.prices["mkt-1"] != 0.61 || cache.prices["mkt-2"] != 0.40 {
		t.Fatalf("price cache = %v, want both markets cached", cache.prices)
	}
}

func TestRunDetectionCycleKeepsAlertEligibleOnDeliveryFailure(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	det := stubDetection{result: detector.CycleResult{
		Evaluated: 1,
		Alerts: []domain.Alert{
			{ID: "a-1", MarketID: "mkt-1", Metric: domain.MetricBidDepth, SignalQuality: 90, CreatedAt: now},
		},
	}}

	alerts := &recordingAlertStore{}
	sender := &recordingSender{fail: true}
	e := testEngine(det, stubCorrelation{}, stubResolution{}, alerts, &stubSnapshots{}, sender, nil, nil)

	report, err := e.RunDetectionCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Notified != 0 {
		t.Fatalf("notified = %d, want 0", report.Notified)
	}
	if len(alerts.notified) != 0 {
		t.Fatal("alert must not be marked notified when delivery failed")
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %+v, want the delivery failure recorded", report.Errors)
	}
}

func TestRunDetectionCycleAbortsOnPassFailure(t *testing.T) {
	det := stubDetection{err: errors.New("store unreachable")}
	e := testEngine(det, stubCorrelation{}, stubResolution{}, &recordingAlertStore{}, &stubSnapshots{}, nil, nil, nil)

	if _, err := e.RunDetectionCycle(context.Background()); err == nil {
		t.Fatal("a pass-level failure must abort the cycle, not be swallowed")
	}
}

func TestRunResolutionCycleNotifiesSummary(t *testing.T) {
	res := stubResolution{report: domain.ResolutionReport{Checked: 12, Resolved: 5, Pending: 7}}
	sender := &recordingSender{}
	e := testEngine(stubDetection{}, stubCorrelation{}, res, &recordingAlertStore{}, &stubSnapshots{}, sender, nil, nil)

	report, err := e.RunResolutionCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Resolved != 5 {
		t.Fatalf("resolved = %d, want 5", report.Resolved)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sender deliveries = %d, want the summary notification", len(sender.sent))
	}
}

func TestRunResolutionCycleQuietWhenNothingResolved(t *testing.T) {
	res := stubResolution{report: domain.ResolutionReport{Checked: 3, Pending: 3}}
	sender := &recordingSender{}
	e := testEngine(stubDetection{}, stubCorrelation{}, res, &recordingAlertStore{}, &stubSnapshots{}, sender, nil, nil)

	if _, err := e.RunResolutionCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("no notification expected when nothing resolved")
	}
}
