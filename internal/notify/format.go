package notify

import (
	"fmt"
	"strings"

	"github.com/polysignal/engine/internal/domain"
)

// FormatAlert renders an alert as a notification title and body.
func FormatAlert(a domain.Alert) (title, message string) {
	switch a.Kind {
	case domain.AlertKindContrarian:
		title = fmt.Sprintf("Contrarian influx: %s", a.MarketID)
	case domain.AlertKindMomentum:
		title = fmt.Sprintf("Price momentum: %s", a.MarketID)
	default:
		title = fmt.Sprintf("Liquidity spike: %s", a.MarketID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "metric: %s (%s)\n", a.Metric, a.Direction)
	if a.Metric == domain.MetricPriceMomentum {
		fmt.Fprintf(&b, "price: %.3f (was %.3f, %+.1f%%)\n", a.ObservedValue, a.BaselineValue, a.Ratio*100)
	} else {
		fmt.Fprintf(&b, "depth: %.0f vs baseline %.0f (%.1fx)\n", a.ObservedValue, a.BaselineValue, a.Ratio)
	}
	fmt.Fprintf(&b, "quality: %d/100", a.SignalQuality)
	return title, b.String()
}

// FormatSignal renders an arbitrage signal as a notification title and body.
func FormatSignal(s domain.ArbitrageSignal) (title, message string) {
	title = fmt.Sprintf("Arbitrage: %s", s.GroupID)

	var b strings.Builder
	fmt.Fprintf(&b, "divergence: %.3f (severity %.1f)\n", s.Divergence, s.Severity)
	if s.ImpliedSum > 0 {
		fmt.Fprintf(&b, "implied sum: %.3f\n", s.ImpliedSum)
	}
	b.WriteString(s.Note)
	return title, b.String()
}
