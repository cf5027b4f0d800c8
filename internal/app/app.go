// Package app provides top-level application lifecycle management for the
// signal engine. It wires together all dependencies (stores, caches, blob
// storage, detection components, and notifications) and starts the
// appropriate loops based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polysignal/engine/internal/config"
	"github.com/polysignal/engine/internal/correlator"
	"github.com/polysignal/engine/internal/detector"
	"github.com/polysignal/engine/internal/engine"
	"github.com/polysignal/engine/internal/resolver"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, and blocks until the context is cancelled. On return the
// caller should invoke Close to release resources.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	eng := a.buildEngine(deps)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "monitor":
		return a.MonitorMode(ctx, eng)
	case "resolve":
		return a.ResolveMode(ctx, eng)
	case "archive":
		return a.ArchiveMode(ctx, deps)
	case "report":
		return a.ReportMode(ctx, deps)
	case "status":
		return a.StatusMode(ctx, deps)
	case "watch":
		return a.WatchMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, eng, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// buildEngine assembles the detection, correlation, and resolution components
// from their configuration sections and composes them into an Engine.
func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	det := detector.New(detector.Config{
		SpikeThresholdRatio:     a.cfg.Detector.SpikeThresholdRatio,
		MinOrderbookDepth:       a.cfg.Detector.MinOrderbookDepth,
		BaselineHours:           a.cfg.Detector.BaselineHours,
		MinSnapshotsForBaseline: a.cfg.Detector.MinSnapshotsForBaseline,
		DuplicateAlertWindow:    a.cfg.Detector.DuplicateAlertWindow.Duration,
		MinSignalQuality:        a.cfg.Detector.MinSignalQuality,

		ContrarianInfluxThreshold:   a.cfg.Detector.ContrarianInfluxThreshold,
		ContrarianMinPriorRatio:     a.cfg.Detector.ContrarianMinPriorRatio,
		ContrarianBaselineSnapshots: a.cfg.Detector.ContrarianBaselineSnapshots,
		ContrarianMinPriceShift:     a.cfg.Detector.ContrarianMinPriceShift,

		MomentumThreshold: a.cfg.Detector.MomentumThreshold,
		MomentumLookback:  a.cfg.Detector.MomentumLookback,
		MinBaselinePrice:  a.cfg.Detector.MinBaselinePrice,
		MaxBaselinePrice:  a.cfg.Detector.MaxBaselinePrice,

		Parallelism: a.cfg.Detector.Parallelism,
	}, deps.SnapshotStore, deps.AlertStore, a.logger)

	corr := correlator.New(correlator.Config{
		DefaultDivergenceThreshold: a.cfg.Correlator.DivergenceThreshold,
		WindowHours:                a.cfg.Correlator.WindowHours,
		MinOverlap:                 a.cfg.Correlator.MinOverlap,
		MinMove:                    a.cfg.Correlator.MinMove,
		DuplicateAlertWindow:       a.cfg.Correlator.DuplicateAlertWindow.Duration,
		SeverityCap:                a.cfg.Correlator.SeverityCap,
	}, deps.GroupStore, deps.SnapshotStore, deps.AlertStore, a.logger)

	res := resolver.New(resolver.Config{
		YesFloor:  a.cfg.Resolver.YesFloor,
		NoCeiling: a.cfg.Resolver.NoCeiling,
	}, deps.PredictionStore, deps.SnapshotStore, a.logger)

	return engine.New(engine.Config{
		MinSignalQuality: a.cfg.Detector.MinSignalQuality,
		SignalChannel:    a.cfg.Engine.SignalChannel,
		SignalStream:     a.cfg.Engine.SignalStream,
	}, det, corr, res, deps.AlertStore, deps.SnapshotStore, deps.MarketStore, deps.Notifier, deps.SignalBus, deps.PriceCache, a.logger)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
