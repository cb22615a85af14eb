package job

import (
	"context"
	"log"
	"time"

	"sentiment-engine/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type SyncRunner interface {
	Refresh(ctx context.Context, def domain.Selection) (domain.BatchReport, error)
}

// SyncJob re-syncs the active selection on a fixed interval. The first run
// syncs def when nothing has been selected yet.
type SyncJob struct {
	tracer   trace.Tracer
	runner   SyncRunner
	def      domain.Selection
	interval time.Duration
}

// NewSyncJob creates the job. interval <= 0 runs the initial sync only.
func NewSyncJob(tracer trace.Tracer, runner SyncRunner, def domain.Selection, interval time.Duration) *SyncJob {
	return &SyncJob{tracer: tracer, runner: runner, def: def, interval: interval}
}

// Start blocks until ctx is cancelled.
func (j *SyncJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Println("Sync job disabled: no runner")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	if j.interval <= 0 {
		log.Println("Sync job: periodic refresh disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *SyncJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "sync-job.run-once")
	defer span.End()

	report, err := j.runner.Refresh(ctx, j.def)
	if err != nil {
		span.RecordError(err)
		log.Printf("sync job: refresh failed err=%v", err)
		return
	}
	span.SetAttributes(
		attribute.String("batch_id", report.BatchID),
		attribute.Bool("cancelled", report.Cancelled),
	)
	if report.Cancelled {
		log.Printf("sync job: batch superseded batch=%s pair=%s", report.BatchID, report.Selection.Pair)
		return
	}
	log.Printf("sync job: refresh complete batch=%s pair=%s ok=%d failed=%d",
		report.BatchID, report.Selection.Pair, len(report.Succeeded), len(report.Failed))
}
