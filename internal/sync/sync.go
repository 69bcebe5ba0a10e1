// Package sync periodically exports the dependency graph as JSONL to
// backup destinations (an S3 bucket, a git repository).
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/depgraph/internal/store"
)

// Destination is a place the graph export is written to.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the whole graph to its destinations on a fixed
// interval.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
}

func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Run syncs once immediately and then on every tick until ctx is
// cancelled. Failed syncs are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SyncOnce exports the graph and writes it to every destination in
// parallel. A failing destination does not stop the others; their errors
// are joined.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	start := time.Now()
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()

	errs := make([]error, len(s.destinations))
	var g errgroup.Group
	for i, dest := range s.destinations {
		g.Go(func() error {
			if err := dest.Write(ctx, data); err != nil {
				errs[i] = fmt.Errorf("%s: %w", dest.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("sync completed", "destinations", len(s.destinations), "bytes", len(data), "took", time.Since(start))
	return nil
}
