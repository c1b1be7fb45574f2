// Package jobs runs the enrichment pipeline: claiming queued work,
// summarizing videos, exporting documents, and sending notifications.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
)

var tracer = otel.Tracer("github.com/linnemanlabs/channelwatch/internal/jobs")

// DefaultBatchLimit is how many jobs one run claims unless overridden.
const DefaultBatchLimit = 10

// Summary is the model's digest of one video.
type Summary struct {
	Text      string
	KeyPoints []string
}

// Summarizer produces a Summary for a video. Failure fails the job.
type Summarizer interface {
	Summarize(ctx context.Context, video *ingest.Video) (*Summary, error)
}

// ExportInput is the material handed to the document exporter.
type ExportInput struct {
	Video   *ingest.Video
	Summary *Summary
}

// ExportResult identifies the produced document.
type ExportResult struct {
	DocID  string
	DocURL string
}

// DocumentExporter writes the summary out as a shareable document.
// Export failures are recorded but do not fail the job.
type DocumentExporter interface {
	Export(ctx context.Context, in *ExportInput) (*ExportResult, error)
}

// Notification is the message posted when a job completes.
type Notification struct {
	Video   *ingest.Video
	Summary *Summary
	DocURL  string
}

// Notifier announces a completed job. Notify failures are recorded but
// do not fail the job.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// BatchResult is the aggregate outcome of one ProcessBatch run.
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Errors    []string `json:"errors,omitempty"`
}

// Runner claims and executes enrichment jobs.
type Runner struct {
	store       ingest.Store
	summarizer  Summarizer
	exporter    DocumentExporter
	notifier    Notifier
	logger      log.Logger
	metrics     *ingest.Metrics
	workers     int
	callTimeout time.Duration
}

// Config carries the Runner knobs.
type Config struct {
	// Workers bounds concurrent job execution within a batch.
	Workers int
	// CallTimeout caps each outbound call (summarize, export, notify).
	CallTimeout time.Duration
}

// New creates a Runner. exporter and notifier may be nil, disabling the
// corresponding side effect.
func New(store ingest.Store, summarizer Summarizer, exporter DocumentExporter, notifier Notifier, cfg Config, logger log.Logger, metrics *ingest.Metrics) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.Nop()
	}
	if metrics == nil {
		metrics = ingest.NopMetrics()
	}
	return &Runner{
		store:       store,
		summarizer:  summarizer,
		exporter:    exporter,
		notifier:    notifier,
		logger:      logger.With("component", "jobs"),
		metrics:     metrics,
		workers:     cfg.Workers,
		callTimeout: cfg.CallTimeout,
	}
}

// ProcessBatch claims up to limit pending jobs and processes them with
// bounded concurrency. Individual job failures land in the result; only
// the claim itself can fail the batch.
func (r *Runner) ProcessBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	claimed, err := r.store.ClaimJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: claim: %w", err)
	}
	if len(claimed) == 0 {
		return &BatchResult{}, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.workers)
		res = BatchResult{Processed: len(claimed)}
	)

	for i := range claimed {
		job := claimed[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := r.processJob(ctx, &job)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", job.ID, err))
			} else {
				res.Succeeded++
			}
		}()
	}
	wg.Wait()

	r.logger.Info(ctx, "job batch complete",
		"claimed", res.Processed, "succeeded", res.Succeeded, "failed", len(res.Errors))
	return &res, nil
}

// processJob runs one claimed job to a terminal state. The summary is
// required; export and notify are best-effort extras.
func (r *Runner) processJob(ctx context.Context, job *ingest.Job) error {
	ctx, span := tracer.Start(ctx, "jobs.Process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("video.id", job.VideoID),
	))
	defer span.End()

	start := time.Now()

	video, ok, err := r.store.GetVideo(ctx, job.VideoID)
	if err == nil && !ok {
		err = fmt.Errorf("video %s: %w", job.VideoID, ingest.ErrNotFound)
	}
	if err != nil {
		return r.fail(ctx, job, start, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	summary, err := r.summarizer.Summarize(callCtx, video)
	cancel()
	if err != nil {
		return r.fail(ctx, job, start, fmt.Errorf("summarize: %w", err))
	}

	result := ingest.JobResult{
		SummaryText: summary.Text,
		KeyPoints:   summary.KeyPoints,
	}

	if r.exporter != nil {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		exported, err := r.exporter.Export(callCtx, &ExportInput{Video: video, Summary: summary})
		cancel()
		if err != nil {
			r.metrics.SideCallsTotal.WithLabelValues("export", "error").Inc()
			r.logger.Error(ctx, err, "document export failed", "job", job.ID, "video", job.VideoID)
		} else {
			r.metrics.SideCallsTotal.WithLabelValues("export", "ok").Inc()
			result.DocID = exported.DocID
			result.DocURL = exported.DocURL
		}
	}

	if r.notifier != nil {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := r.notifier.Notify(callCtx, &Notification{Video: video, Summary: summary, DocURL: result.DocURL})
		cancel()
		if err != nil {
			r.metrics.SideCallsTotal.WithLabelValues("notify", "error").Inc()
			r.logger.Error(ctx, err, "notification failed", "job", job.ID, "video", job.VideoID)
		} else {
			r.metrics.SideCallsTotal.WithLabelValues("notify", "ok").Inc()
		}
	}

	if err := r.store.CompleteJob(ctx, job.ID, result); err != nil {
		return r.fail(ctx, job, start, fmt.Errorf("complete: %w", err))
	}

	r.metrics.JobsTotal.WithLabelValues(string(ingest.JobDone)).Inc()
	r.metrics.JobDuration.WithLabelValues(string(ingest.JobDone)).Observe(time.Since(start).Seconds())
	r.logger.Info(ctx, "job done",
		"job", job.ID, "video", job.VideoID, "duration_s", time.Since(start).Seconds())
	return nil
}

func (r *Runner) fail(ctx context.Context, job *ingest.Job, start time.Time, cause error) error {
	trace.SpanFromContext(ctx).RecordError(cause)
	if err := r.store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		r.logger.Error(ctx, err, "recording job failure failed", "job", job.ID)
	}
	r.metrics.JobsTotal.WithLabelValues(string(ingest.JobFailed)).Inc()
	r.metrics.JobDuration.WithLabelValues(string(ingest.JobFailed)).Observe(time.Since(start).Seconds())
	r.logger.Error(ctx, cause, "job failed", "job", job.ID, "video", job.VideoID)
	return cause
}

// RequeueStale returns jobs stuck in processing longer than olderThan to
// the pending queue. Worker crashes leave such jobs behind.
func (r *Runner) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := r.store.RequeueStale(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("jobs: requeue stale: %w", err)
	}
	if n > 0 {
		r.metrics.RequeuedStale.Add(float64(n))
		r.logger.Info(ctx, "requeued stale jobs", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}
