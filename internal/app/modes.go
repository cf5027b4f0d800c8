package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/polysignal/engine/internal/engine"
	"github.com/polysignal/engine/internal/report"
)

// MonitorMode runs the detection and correlation passes on the detection
// interval. Resolution and archival stay off; this is the mode for a box that
// only watches order books.
func (a *App) MonitorMode(ctx context.Context, eng *engine.Engine) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Duration("detection_interval", a.cfg.Engine.DetectionInterval.Duration),
	)

	runCycle := func() {
		if _, err := eng.RunDetectionCycle(ctx); err != nil {
			a.logger.Error("detection cycle failed", slog.String("error", err.Error()))
		}
	}

	runCycle()
	ticker := time.NewTicker(a.cfg.Engine.DetectionInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runCycle()
		}
	}
}

// ResolveMode runs only the prediction-resolution pass on the resolution
// interval, starting with an immediate pass so a restart catches up on
// settled markets right away.
func (a *App) ResolveMode(ctx context.Context, eng *engine.Engine) error {
	a.logger.InfoContext(ctx, "starting resolve mode",
		slog.Duration("resolution_interval", a.cfg.Engine.ResolutionInterval.Duration),
	)

	runCycle := func() {
		if _, err := eng.RunResolutionCycle(ctx); err != nil {
			a.logger.Error("resolution cycle failed", slog.String("error", err.Error()))
		}
	}

	runCycle()
	ticker := time.NewTicker(a.cfg.Engine.ResolutionInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runCycle()
		}
	}
}

// ArchiveMode runs only the retention archiver on its interval. Requires
// retention to be enabled so the S3 writer exists.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires retention.enabled = true")
	}

	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Duration("archive_interval", a.cfg.Retention.ArchiveInterval.Duration),
	)

	runOnce := func() {
		if err := deps.Archiver.RunOnce(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}

	runOnce()
	ticker := time.NewTicker(a.cfg.Retention.ArchiveInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce()
		}
	}
}

// ReportMode generates the pattern-accuracy report once, writes it to stdout
// as JSON, and exits.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	analyzer := report.NewAnalyzer(report.Config{
		AnalysisDays:      a.cfg.Report.AnalysisDays,
		MinPatternSamples: a.cfg.Report.MinPatternSamples,
		CombinedWindow:    a.cfg.Report.CombinedWindow.Duration,
	}, deps.AlertStore, deps.PredictionStore, a.logger)

	rep, err := analyzer.Generate(ctx)
	if err != nil {
		return err
	}
	return writeJSON(rep)
}

// StatusMode collects the operational snapshot once, writes it to stdout as
// JSON, and exits. The price cache and signal bus sections appear only when
// Redis is enabled.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	reporter := report.NewStatusReporter(report.StatusConfig{
		MinSnapshotsForBaseline: a.cfg.Detector.MinSnapshotsForBaseline,
		BaselineHours:           a.cfg.Detector.BaselineHours,
		SignalStream:            a.cfg.Engine.SignalStream,
	}, deps.MarketStore, deps.SnapshotStore, deps.AlertStore, deps.GroupStore,
		deps.PriceCache, deps.SignalBus, a.logger)

	status, err := reporter.Collect(ctx)
	if err != nil {
		return err
	}
	return writeJSON(status)
}

// WatchMode subscribes to the live signal channel and prints each payload to
// stdout until the context is cancelled. Requires Redis.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if deps.SignalBus == nil {
		return fmt.Errorf("app: watch mode requires redis.enabled = true")
	}

	ch, err := deps.SignalBus.Subscribe(ctx, a.cfg.Engine.SignalChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", a.cfg.Engine.SignalChannel, err)
	}
	a.logger.InfoContext(ctx, "watching signal channel",
		slog.String("channel", a.cfg.Engine.SignalChannel),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stdout, string(payload))
		}
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FullMode runs everything: detection, resolution, and (when retention is
// enabled) archival, all driven by the orchestrator.
func (a *App) FullMode(ctx context.Context, eng *engine.Engine, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	var archiver engine.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}

	orch := engine.NewOrchestrator(
		eng,
		archiver,
		a.cfg.Engine.DetectionInterval.Duration,
		a.cfg.Engine.ResolutionInterval.Duration,
		a.cfg.Retention.ArchiveInterval.Duration,
		a.logger,
	)
	return orch.Run(ctx)
}
