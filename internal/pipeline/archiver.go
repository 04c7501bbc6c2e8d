// Package pipeline runs the periodic background jobs of the daemon.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// ArchiveJob copies records older than the retention window to object
// storage.
type ArchiveJob struct {
	archiver      domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiveJob creates an ArchiveJob.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver:      archiver,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archive_job")),
	}
}

// Run archives trades, opportunities and activity older than the cutoff.
// A failing kind does not stop the others; their errors are joined.
func (j *ArchiveJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retentionDays) * 24 * time.Hour)
	j.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", j.retentionDays),
	)

	steps := []struct {
		kind string
		run  func(context.Context, time.Time) (int64, error)
	}{
		{"trades", j.archiver.ArchiveTrades},
		{"opportunities", j.archiver.ArchiveOpportunities},
		{"activity", j.archiver.ArchiveActivity},
	}

	var errs []error
	attrs := make([]any, 0, len(steps))
	for _, s := range steps {
		n, err := s.run(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline: archive %s before %s: %w", s.kind, cutoff.Format(time.RFC3339), err))
			continue
		}
		attrs = append(attrs, slog.Int64(s.kind+"_archived", n))
	}
	j.logger.InfoContext(ctx, "archive run complete", attrs...)
	return errors.Join(errs...)
}

// RunLoop archives every interval until ctx is cancelled. Failed runs are
// logged and retried on the next tick.
func (j *ArchiveJob) RunLoop(ctx context.Context, interval time.Duration) error {
	return Every(ctx, interval, func(ctx context.Context) {
		if err := j.Run(ctx); err != nil {
			j.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	})
}

// Every calls fn every interval until ctx is cancelled and then returns
// ctx.Err(). The first call happens after one interval.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
