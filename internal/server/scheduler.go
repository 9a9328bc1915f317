package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// slogCron adapts slog to cron.Logger.
type slogCron struct{ logger *slog.Logger }

func (l slogCron) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCron) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// UsageSchedule is when the storage usage report is logged.
const UsageSchedule = "@hourly"

// NewScheduler registers the periodic maintenance of a pipeline: the retention cleanup,
// queued as a storage job, and a storage usage report. The returned cron is not started.
func NewScheduler(ctx context.Context, p *Pipeline, logger *slog.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(
		cron.WithLogger(slogCron{logger: logger}),
		cron.WithChain(cron.SkipIfStillRunning(slogCron{logger: logger})),
	)

	retention := p.cfg.Retention
	if _, err := c.AddFunc(retention.Schedule, func() {
		id, err := p.Ingest.EnqueueCleanup(retention.Period)
		if err != nil {
			logger.Error("schedule retention cleanup failed", "error", err)
			return
		}
		logger.Info("retention cleanup queued", "job_id", id, "retention", retention.Period)
	}); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", retention.Schedule, err)
	}

	if _, err := c.AddFunc(UsageSchedule, func() {
		usage, err := p.Blobs.Usage(ctx)
		if err != nil {
			logger.Error("storage usage failed", "error", err)
			return
		}
		stats := p.Blobs.Stats()
		m := p.Queue.GetMetrics()
		logger.Info("storage usage",
			"objects", usage.Objects,
			"compressed", usage.Compressed,
			"bytes", humanize.Bytes(uint64(usage.Bytes)),
			"saved", humanize.Bytes(uint64(stats.SavedBytes)),
			"dedup_hits", stats.DedupHits,
			"queue_pending", m.PendingJobs,
			"queue_cost_today", m.CostToday)
	}); err != nil {
		return nil, err
	}
	return c, nil
}
