// Package detector evaluates each monitored market against its own rolling
// baseline and raises alerts for liquidity spikes, contrarian capital influx,
// and price momentum shifts.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/polysignal/engine/internal/domain"
	"github.com/polysignal/engine/internal/indicators"
)

// Config holds the detection thresholds. All values are injected at
// construction; nothing here is read from ambient state, so tests can
// override any threshold per case.
type Config struct {
	SpikeThresholdRatio     float64       // current/baseline depth ratio that flags a spike
	MinOrderbookDepth       float64       // absolute depth floor, filters illiquid noise
	BaselineHours           int           // rolling window span
	MinSnapshotsForBaseline int           // baseline sufficiency, excludes the newest snapshot
	DuplicateAlertWindow    time.Duration // suppression window per (market, metric, kind)
	MinSignalQuality        int           // notification bar

	ContrarianInfluxThreshold   float64 // depth influx ratio on the minority side
	ContrarianMinPriorRatio     float64 // prior opposite-side skew that defines a consensus
	ContrarianBaselineSnapshots int     // short window the contrarian rule looks at
	ContrarianMinPriceShift     float64 // absolute price move that must accompany the influx

	MomentumThreshold float64 // fractional price change that flags momentum
	MomentumLookback  int     // snapshots back for the momentum reference
	MinBaselinePrice  float64 // momentum ignored when the reference price is near-settled
	MaxBaselinePrice  float64

	Parallelism int // concurrent market evaluations per cycle
}

// Detector runs the spike, contrarian, and momentum rules over the snapshot
// store and persists resulting alerts through the alert store, which enforces
// the deduplication window atomically.
type Detector struct {
	cfg       Config
	snapshots domain.SnapshotStore
	alerts    domain.AlertStore
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Detector with the given configuration and collaborators.
func New(cfg Config, snapshots domain.SnapshotStore, alerts domain.AlertStore, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:       cfg,
		snapshots: snapshots,
		alerts:    alerts,
		logger:    logger.With(slog.String("component", "detector")),
		now:       time.Now,
	}
}

// MarketResult is the outcome of evaluating one market in a cycle.
type MarketResult struct {
	MarketID   string
	Alerts     []domain.Alert
	Suppressed int
	Skipped    bool
	Errors     []domain.ItemError
}

// CycleResult aggregates one detection pass across all eligible markets.
type CycleResult struct {
	Evaluated  int
	Alerts     []domain.Alert
	Suppressed int
	Skipped    int
	Errors     []domain.ItemError
}

// Run evaluates every market with sufficient history. Markets are evaluated
// independently: one market's failure is recorded in the result and never
// aborts its siblings. Only a failure listing the candidate markets aborts
// the cycle.
func (d *Detector) Run(ctx context.Context) (CycleResult, error) {
	since := d.now().Add(-time.Duration(d.cfg.BaselineHours) * time.Hour)
	marketIDs, err := d.snapshots.ListMarketsWithHistory(ctx, d.cfg.MinSnapshotsForBaseline+1, since)
	if err != nil {
		return CycleResult{}, fmt.Errorf("detector: list markets: %w", err)
	}

	var (
		mu  sync.Mutex
		res CycleResult
	)

	g, gctx := errgroup.WithContext(ctx)
	limit := d.cfg.Parallelism
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, id := range marketIDs {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mr, err := d.EvaluateMarket(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, domain.ItemError{Key: id, Err: err})
				return nil
			}
			res.Evaluated++
			if mr.Skipped {
				res.Skipped++
			}
			res.Alerts = append(res.Alerts, mr.Alerts...)
			res.Suppressed += mr.Suppressed
			res.Errors = append(res.Errors, mr.Errors...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("detector: cycle aborted: %w", err)
	}

	d.logger.Info("detection pass complete",
		slog.Int("evaluated", res.Evaluated),
		slog.Int("alerts", len(res.Alerts)),
		slog.Int("suppressed", res.Suppressed),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// EvaluateMarket runs all detection rules against one market's rolling
// window. A window shorter than the baseline minimum (plus the current
// snapshot, which is excluded from the baseline) skips the market without
// error. Persist failures for individual alerts are contained per metric.
func (d *Detector) EvaluateMarket(ctx context.Context, marketID string) (MarketResult, error) {
	res := MarketResult{MarketID: marketID}

	since := d.now().Add(-time.Duration(d.cfg.BaselineHours) * time.Hour)
	snaps, err := d.snapshots.GetSnapshots(ctx, marketID, since)
	if err != nil {
		return res, fmt.Errorf("get snapshots: %w: %w", domain.ErrSourceUnavailable, err)
	}
	if len(snaps) < d.cfg.MinSnapshotsForBaseline+1 {
		res.Skipped = true
		return res, nil
	}

	current := snaps[len(snaps)-1]
	baseline := snaps[:len(snaps)-1]

	for _, metric := range domain.DepthMetrics {
		if a, ok := d.spikeAlert(metric, current, baseline); ok {
			d.persist(ctx, a, &res)
		}
		if a, ok := d.contrarianAlert(metric, snaps); ok {
			d.persist(ctx, a, &res)
		}
	}
	if a, ok := d.momentumAlert(snaps); ok {
		d.persist(ctx, a, &res)
	}
	return res, nil
}

// persist writes the alert through the store's atomic dedup insert and folds
// the outcome into the market result.
func (d *Detector) persist(ctx context.Context, a domain.Alert, res *MarketResult) {
	since := a.CreatedAt.Add(-d.cfg.DuplicateAlertWindow)
	id, err := d.alerts.InsertIfNoneSince(ctx, a, since)
	switch {
	case errors.Is(err, domain.ErrDuplicateAlert):
		res.Suppressed++
	case err != nil:
		res.Errors = append(res.Errors, domain.ItemError{
			Key:    a.MarketID,
			Metric: a.Metric,
			Err:    fmt.Errorf("insert alert: %w: %w", domain.ErrStoreWrite, err),
		})
	default:
		a.ID = id
		res.Alerts = append(res.Alerts, a)
		d.logger.Info("alert raised",
			slog.String("market_id", a.MarketID),
			slog.String("metric", string(a.Metric)),
			slog.String("kind", string(a.Kind)),
			slog.Float64("ratio", a.Ratio),
			slog.Int("quality", a.SignalQuality),
		)
	}
}

// spikeAlert applies the ordinary spike rule: current depth at least
// SpikeThresholdRatio times the baseline mean, and above the absolute depth
// floor.
func (d *Detector) spikeAlert(metric domain.Metric, current domain.MarketSnapshot, baseline []domain.MarketSnapshot) (domain.Alert, bool) {
	baseVals := make([]float64, len(baseline))
	basePrices := make([]float64, len(baseline))
	for i, s := range baseline {
		baseVals[i] = s.Depth(metric)
		basePrices[i] = s.YesPrice
	}

	mean := indicators.Mean(baseVals)
	ratio, ok := indicators.DepthRatio(current.Depth(metric), mean)
	if !ok {
		return domain.Alert{}, false
	}
	if ratio < d.cfg.SpikeThresholdRatio || current.Depth(metric) < d.cfg.MinOrderbookDepth {
		return domain.Alert{}, false
	}

	z, err := indicators.ZScore(current.Depth(metric), baseVals)
	if err != nil {
		z = 0
	}
	priceShift := current.YesPrice - indicators.Mean(basePrices)

	quality := d.qualityScore(qualityFactors{
		ratio:      ratio,
		threshold:  d.cfg.SpikeThresholdRatio,
		z:          z,
		depth:      current.Depth(metric),
		concurs:    priceConcurs(metric, priceShift),
		imbalance:  bookSkew(current),
		volatility: priceVolatility(append(basePrices, current.YesPrice)),
		velocity:   seriesVelocity(append(baseVals, current.Depth(metric))),
		rsi:        -1,
	})

	return domain.Alert{
		ID:            uuid.NewString(),
		MarketID:      current.MarketID,
		Metric:        metric,
		Kind:          domain.AlertKindSpike,
		ObservedValue: current.Depth(metric),
		BaselineValue: mean,
		Ratio:         ratio,
		SignalQuality: quality,
		Direction:     domain.DirectionUp,
		CreatedAt:     d.now(),
	}, true
}

// contrarianAlert applies the contrarian-influx rule over the trailing short
// window: new depth entering a side that the prior book skew leaned against,
// accompanied by a real price move.
func (d *Detector) contrarianAlert(metric domain.Metric, snaps []domain.MarketSnapshot) (domain.Alert, bool) {
	n := d.cfg.ContrarianBaselineSnapshots
	if n < 2 || len(snaps) < n {
		return domain.Alert{}, false
	}
	window := snaps[len(snaps)-n:]
	current := window[len(window)-1]
	prior := window[:len(window)-1]

	var sameSide, otherSide []float64
	for _, s := range prior {
		sameSide = append(sameSide, s.Depth(metric))
		otherSide = append(otherSide, s.Depth(opposite(metric)))
	}

	sameMean := indicators.Mean(sameSide)
	influx, ok := indicators.DepthRatio(current.Depth(metric), sameMean)
	if !ok || influx < d.cfg.ContrarianInfluxThreshold {
		return domain.Alert{}, false
	}

	// The prior consensus must have leaned the other way.
	skew, ok := indicators.DepthRatio(indicators.Mean(otherSide), sameMean)
	if !ok || skew < d.cfg.ContrarianMinPriorRatio {
		return domain.Alert{}, false
	}

	priceShift := window[len(window)-1].YesPrice - window[0].YesPrice
	if math.Abs(priceShift) < d.cfg.ContrarianMinPriceShift {
		return domain.Alert{}, false
	}

	dir := domain.DirectionUp
	if priceShift < 0 {
		dir = domain.DirectionDown
	}

	z, err := indicators.ZScore(current.Depth(metric), sameSide)
	if err != nil {
		z = 0
	}

	allPrices := make([]float64, len(snaps))
	for i, s := range snaps {
		allPrices[i] = s.YesPrice
	}

	quality := d.qualityScore(qualityFactors{
		ratio:      influx,
		threshold:  d.cfg.ContrarianInfluxThreshold,
		z:          z,
		depth:      current.Depth(metric),
		concurs:    priceConcurs(metric, priceShift),
		imbalance:  bookSkew(current),
		volatility: priceVolatility(allPrices),
		velocity:   seriesVelocity(append(sameSide, current.Depth(metric))),
		rsi:        -1,
	})

	return domain.Alert{
		ID:            uuid.NewString(),
		MarketID:      current.MarketID,
		Metric:        metric,
		Kind:          domain.AlertKindContrarian,
		ObservedValue: current.Depth(metric),
		BaselineValue: sameMean,
		Ratio:         influx,
		SignalQuality: quality,
		Direction:     dir,
		CreatedAt:     d.now(),
	}, true
}

// momentumAlert flags a sustained price move. Markets whose reference price
// is already near-settled are ignored, since a few points of drift on a 0.97
// market carries no information.
func (d *Detector) momentumAlert(snaps []domain.MarketSnapshot) (domain.Alert, bool) {
	prices := make([]float64, len(snaps))
	for i, s := range snaps {
		prices[i] = s.YesPrice
	}

	mom, err := indicators.Momentum(prices, d.cfg.MomentumLookback)
	if err != nil || math.Abs(mom) < d.cfg.MomentumThreshold {
		return domain.Alert{}, false
	}

	refIdx := len(prices) - 1 - d.cfg.MomentumLookback
	if refIdx < 0 {
		refIdx = 0
	}
	ref := prices[refIdx]
	if ref < d.cfg.MinBaselinePrice || ref > d.cfg.MaxBaselinePrice {
		return domain.Alert{}, false
	}

	current := snaps[len(snaps)-1]
	dir := domain.DirectionUp
	if mom < 0 {
		dir = domain.DirectionDown
	}

	// Depth skew agreeing with the move direction raises confidence.
	concurs := (mom > 0 && current.BidDepth > current.AskDepth) ||
		(mom < 0 && current.AskDepth > current.BidDepth)

	z, err := indicators.ZScore(current.YesPrice, prices[:len(prices)-1])
	if err != nil {
		z = 0
	}

	rsi, err := indicators.RSI(prices, rsiPeriod)
	if err != nil {
		rsi = -1
	}

	// A close outside the Bollinger band in the move direction is the price
	// analogue of extreme velocity.
	var breakout float64
	if bands, err := indicators.Bollinger(prices[:len(prices)-1], bandPeriod, bandWidth); err == nil {
		if (mom > 0 && current.YesPrice > bands.Upper) || (mom < 0 && current.YesPrice < bands.Lower) {
			breakout = 1
		}
	}

	quality := d.qualityScore(qualityFactors{
		ratio:      math.Abs(mom),
		threshold:  d.cfg.MomentumThreshold,
		z:          z,
		depth:      current.BidDepth + current.AskDepth,
		concurs:    concurs,
		imbalance:  bookSkew(current),
		volatility: priceVolatility(prices),
		velocity:   breakout,
		rsi:        rsi,
	})

	return domain.Alert{
		ID:            uuid.NewString(),
		MarketID:      current.MarketID,
		Metric:        domain.MetricPriceMomentum,
		Kind:          domain.AlertKindMomentum,
		ObservedValue: current.YesPrice,
		BaselineValue: ref,
		Ratio:         mom,
		SignalQuality: quality,
		Direction:     dir,
		CreatedAt:     d.now(),
	}, true
}

// Context bands for the secondary quality factors. Skew saturates at 5:1,
// price volatility above 0.05 per step marks a noisy market, and a full
// doubling of the alerted series counts as extreme velocity.
const (
	imbalanceExtreme = 5.0
	highVolatility   = 0.05
	extremeVelocity  = 1.0
	velocityPeriods  = 6
	rsiPeriod        = 12
	rsiOverbought    = 70.0
	rsiOversold      = 30.0
	bandPeriod       = 20
	bandWidth        = 2.0
)

// qualityFactors carries everything the quality score weighs for one alert.
// Optional context factors use sentinel values when they could not be
// computed: imbalance 0, volatility and rsi negative.
type qualityFactors struct {
	ratio     float64
	threshold float64
	z         float64
	depth     float64
	concurs   bool

	imbalance  float64 // bid/ask skew of the current book, 0 when undefined
	volatility float64 // stddev of per-step price changes, negative when unknown
	velocity   float64 // recent fractional change of the alerted series
	rsi        float64 // price RSI, negative when not applicable
}

// qualityScore maps a detection onto a bounded 0-100 confidence value:
//
//	score = 30*min(ratio/threshold - 1, 1)     magnitude above threshold
//	      + 20*min(|z|/3, 1)                   deviation vs baseline spread
//	      + 10*min(depth/(10*floor), 1)        absolute liquidity confidence
//	      + 10*concurrence                     price and depth agree
//	      + 10*min(skew/5, 1)                  one-sided book pressure
//	      + 10*(1 - min(volatility/0.05, 1))   calm market, spike means more
//	      +  5*min(|velocity|, 1)              speed of the move
//	      +  5*reversal                        RSI overbought/oversold
//
// clamped to [0, 100] regardless of input extremes. Factors that could not
// be computed contribute nothing.
func (d *Detector) qualityScore(f qualityFactors) int {
	var excess float64
	if f.threshold > 0 {
		excess = math.Min(f.ratio/f.threshold-1, 1)
	}
	if excess < 0 {
		excess = 0
	}
	dev := math.Min(math.Abs(f.z)/3, 1)

	var liq float64
	if d.cfg.MinOrderbookDepth > 0 {
		liq = math.Min(f.depth/(10*d.cfg.MinOrderbookDepth), 1)
	}

	var conc float64
	if f.concurs {
		conc = 1
	}

	var skew float64
	if f.imbalance > 0 {
		display := f.imbalance
		if display < 1 {
			display = 1 / display
		}
		skew = math.Min(display/imbalanceExtreme, 1)
	}

	var calm float64
	if f.volatility >= 0 {
		calm = 1 - math.Min(f.volatility/highVolatility, 1)
	}

	vel := math.Min(math.Abs(f.velocity)/extremeVelocity, 1)

	var reversal float64
	if f.rsi >= rsiOverbought || (f.rsi >= 0 && f.rsi <= rsiOversold) {
		reversal = 1
	}

	score := math.Round(30*excess + 20*dev + 10*liq + 10*conc + 10*skew + 10*calm + 5*vel + 5*reversal)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// bookSkew returns the current bid/ask imbalance, or 0 when a side is empty.
func bookSkew(s domain.MarketSnapshot) float64 {
	skew, ok := indicators.Imbalance(s.BidDepth, s.AskDepth)
	if !ok {
		return 0
	}
	return skew
}

// priceVolatility returns the per-step price volatility over the window, or
// -1 when the window is too short to measure.
func priceVolatility(prices []float64) float64 {
	vol, err := indicators.Volatility(prices)
	if err != nil {
		return -1
	}
	return vol
}

// seriesVelocity returns the recent fractional change of a metric series, or
// 0 when the series is too short.
func seriesVelocity(vals []float64) float64 {
	roc, err := indicators.RateOfChange(vals, velocityPeriods)
	if err != nil {
		return 0
	}
	return roc
}

// priceConcurs reports whether a price shift agrees with depth entering the
// given side: bid influx with a rising price, ask influx with a falling one.
func priceConcurs(metric domain.Metric, priceShift float64) bool {
	if metric == domain.MetricAskDepth {
		return priceShift < 0
	}
	return priceShift > 0
}

// opposite returns the other side of the book.
func opposite(metric domain.Metric) domain.Metric {
	if metric == domain.MetricBidDepth {
		return domain.MetricAskDepth
	}
	return domain.MetricBidDepth
}
