// Package indicators provides pure statistical functions over snapshot
// windows. Callers supply already-fetched, timestamp-ordered series; nothing
// here touches a store or holds state.
package indicators

import (
	"math"

	"github.com/polysignal/engine/internal/domain"
)

// stdDevFloor bounds z-scores on near-constant windows so a flat series never
// produces an exploding deviation.
const stdDevFloor = 0.005

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// StdDev returns the sample standard deviation, or 0 when fewer than two
// values are given.
func StdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	mean := Mean(vals)
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// Momentum returns the fractional change between the most recent value and
// the value k positions back. When the series is shorter than k+1 points the
// earliest available value is used instead, mirroring "6h or earliest
// available" semantics. A series with fewer than two points, or a zero
// reference value, yields ErrInsufficientData.
func Momentum(vals []float64, k int) (float64, error) {
	if len(vals) < 2 {
		return 0, domain.ErrInsufficientData
	}
	refIdx := len(vals) - 1 - k
	if refIdx < 0 {
		refIdx = 0
	}
	ref := vals[refIdx]
	if ref == 0 {
		return 0, domain.ErrInsufficientData
	}
	return (vals[len(vals)-1] - ref) / ref, nil
}

// DepthRatio returns current/baselineMean. A zero baseline has no defined
// ratio; ok is false and the caller must skip the comparison rather than
// crash the evaluation cycle.
func DepthRatio(current, baselineMean float64) (ratio float64, ok bool) {
	if baselineMean == 0 {
		return 0, false
	}
	return current / baselineMean, true
}

// ZScore returns (current - mean(window)) / stddev(window) with the standard
// deviation floored at stdDevFloor. Windows shorter than two points yield
// ErrInsufficientData.
func ZScore(current float64, window []float64) (float64, error) {
	if len(window) < 2 {
		return 0, domain.ErrInsufficientData
	}
	sd := StdDev(window)
	if sd < stdDevFloor {
		sd = stdDevFloor
	}
	return (current - Mean(window)) / sd, nil
}

// RSI computes the relative strength index over the last period price
// changes. 100 means every change in the period was a gain.
func RSI(prices []float64, period int) (float64, error) {
	if period < 1 || len(prices) < period+1 {
		return 0, domain.ErrInsufficientData
	}
	var gains, losses float64
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		c := prices[i] - prices[i-1]
		if c > 0 {
			gains += c
		} else {
			losses -= c
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// Bands holds Bollinger band levels for a price series. Upper and Lower are
// clamped to the valid [0,1] probability range.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
	Width  float64 // (upper-lower)/middle, a volatility proxy
}

// Bollinger computes Bollinger bands over the trailing period using width
// standard deviations.
func Bollinger(prices []float64, period int, width float64) (Bands, error) {
	if period < 2 || len(prices) < period {
		return Bands{}, domain.ErrInsufficientData
	}
	recent := prices[len(prices)-period:]
	mid := Mean(recent)
	sd := StdDev(recent)
	upper := math.Min(mid+width*sd, 1.0)
	lower := math.Max(mid-width*sd, 0.0)
	b := Bands{Upper: upper, Middle: mid, Lower: lower}
	if mid > 0 {
		b.Width = (upper - lower) / mid
	}
	return b, nil
}

// Imbalance returns the bid/ask depth ratio. ok is false when either side is
// zero, in which case no skew can be inferred.
func Imbalance(bid, ask float64) (ratio float64, ok bool) {
	if bid <= 0 || ask <= 0 {
		return 0, false
	}
	return bid / ask, true
}

// Volatility returns the sample standard deviation of successive price
// changes over the series.
func Volatility(prices []float64) (float64, error) {
	if len(prices) < 3 {
		return 0, domain.ErrInsufficientData
	}
	diffs := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		diffs = append(diffs, prices[i]-prices[i-1])
	}
	return StdDev(diffs), nil
}

// RateOfChange returns the fractional change between the latest value and
// the value periods back. Unlike Momentum it does not fall back to the
// earliest point: a short series is an error.
func RateOfChange(vals []float64, periods int) (float64, error) {
	if periods < 1 || len(vals) < periods+1 {
		return 0, domain.ErrInsufficientData
	}
	past := vals[len(vals)-1-periods]
	if past == 0 {
		return 0, domain.ErrInsufficientData
	}
	return (vals[len(vals)-1] - past) / past, nil
}

// Pearson computes the Pearson correlation coefficient between two equal-
// length series. Series shorter than three points, or with zero variance on
// either side, yield ErrInsufficientData.
func Pearson(xs, ys []float64) (float64, error) {
	n := len(xs)
	if n != len(ys) || n < 3 {
		return 0, domain.ErrInsufficientData
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, domain.ErrInsufficientData
	}
	return sxy / math.Sqrt(sxx*syy), nil
}
