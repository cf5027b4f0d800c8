package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Archiver moves aged rows to cold storage; the orchestrator drives it on a
// slow interval alongside the cycles.
type Archiver interface {
	RunOnce(ctx context.Context) error
}

// Orchestrator drives the engine's cycles on their intervals: detection on a
// fast ticker, resolution on a slower one, archival slowest. A nil archiver
// disables the archival loop.
type Orchestrator struct {
	engine             *Engine
	archiver           Archiver
	detectionInterval  time.Duration
	resolutionInterval time.Duration
	archiveInterval    time.Duration
	logger             *slog.Logger
}

// NewOrchestrator creates an Orchestrator for the given engine.
func NewOrchestrator(
	eng *Engine,
	archiver Archiver,
	detectionInterval, resolutionInterval, archiveInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		engine:             eng,
		archiver:           archiver,
		detectionInterval:  detectionInterval,
		resolutionInterval: resolutionInterval,
		archiveInterval:    archiveInterval,
		logger:             logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. Each loop
// respects ctx cancellation; if any loop returns a non-context error, the
// errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		slog.Duration("detection_interval", o.detectionInterval),
		slog.Duration("resolution_interval", o.resolutionInterval),
		slog.Duration("archive_interval", o.archiveInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.detectionLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("detection loop: %w", err)
	})

	g.Go(func() error {
		err := o.resolutionLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("resolution loop: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiveLoop(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archive loop: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// detectionLoop runs a detection cycle immediately, then on every tick. A
// cycle-level failure is logged and retried next tick rather than killing the
// loop: a transient store outage should not take the process down.
func (o *Orchestrator) detectionLoop(ctx context.Context) error {
	if _, err := o.engine.RunDetectionCycle(ctx); err != nil {
		o.logger.Error("detection cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(o.detectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.engine.RunDetectionCycle(ctx); err != nil {
				o.logger.Error("detection cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) resolutionLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.resolutionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.engine.RunResolutionCycle(ctx); err != nil {
				o.logger.Error("resolution cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) archiveLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.archiver.RunOnce(ctx); err != nil {
				o.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
