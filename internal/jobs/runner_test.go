package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
	"github.com/linnemanlabs/channelwatch/internal/ingest/memstore"
)

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, v *ingest.Video) (*Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Summary{
		Text:      "summary of " + v.Title,
		KeyPoints: []string{"point a", "point b"},
	}, nil
}

type fakeExporter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExporter) Export(_ context.Context, in *ExportInput) (*ExportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ExportResult{DocID: "doc-" + in.Video.VideoID, DocURL: "https://docs.example/" + in.Video.VideoID}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func seedJob(t *testing.T, store *memstore.Store, videoID, title string) string {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateVideo(ctx, &ingest.Video{
		VideoID: videoID, ChannelID: "ch-1", Title: title,
		PublishedAt: time.Now().UTC(), Origin: ingest.OriginPush,
		EventType: ingest.EventNewOrUpdate, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	id := ulid.Make().String()
	if err := store.EnqueueJob(ctx, &ingest.Job{
		ID: id, VideoID: videoID, Status: ingest.JobPending, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return id
}

func TestProcessBatch_Success(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	sum := &fakeSummarizer{}
	exp := &fakeExporter{}
	not := &fakeNotifier{}
	r := New(store, sum, exp, not, Config{}, nil, nil)

	jobID := seedJob(t, store, "dQw4w9WgXcQ", "Release Notes")

	res, err := r.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Processed != 1 || res.Succeeded != 1 || len(res.Errors) != 0 {
		t.Fatalf("res = %+v", res)
	}

	job, ok, _ := store.GetJob(context.Background(), jobID)
	if !ok {
		t.Fatal("job missing")
	}
	if job.Status != ingest.JobDone {
		t.Fatalf("Status = %q, want done", job.Status)
	}
	if job.Result.SummaryText != "summary of Release Notes" {
		t.Errorf("SummaryText = %q", job.Result.SummaryText)
	}
	if len(job.Result.KeyPoints) != 2 {
		t.Errorf("KeyPoints = %v", job.Result.KeyPoints)
	}
	if job.Result.DocURL != "https://docs.example/dQw4w9WgXcQ" {
		t.Errorf("DocURL = %q", job.Result.DocURL)
	}

	not.mu.Lock()
	defer not.mu.Unlock()
	if len(not.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(not.sent))
	}
	if not.sent[0].DocURL != job.Result.DocURL {
		t.Errorf("notification DocURL = %q", not.sent[0].DocURL)
	}
}

func TestProcessBatch_SummarizerFailureFailsJob(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	sum := &fakeSummarizer{err: errors.New("model overloaded")}
	exp := &fakeExporter{}
	not := &fakeNotifier{}
	r := New(store, sum, exp, not, Config{}, nil, nil)

	jobID := seedJob(t, store, "dQw4w9WgXcQ", "doomed")

	res, err := r.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Succeeded != 0 || len(res.Errors) != 1 {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.Errors[0], "model overloaded") {
		t.Errorf("error = %q", res.Errors[0])
	}

	job, _, _ := store.GetJob(context.Background(), jobID)
	if job.Status != ingest.JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "model overloaded") {
		t.Errorf("Error = %q", job.Error)
	}

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if exp.calls != 0 {
		t.Error("exporter must not run after summarizer failure")
	}
	not.mu.Lock()
	defer not.mu.Unlock()
	if len(not.sent) != 0 {
		t.Error("notifier must not run after summarizer failure")
	}
}

func TestProcessBatch_ExportFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	sum := &fakeSummarizer{}
	exp := &fakeExporter{err: errors.New("apps script down")}
	not := &fakeNotifier{}
	r := New(store, sum, exp, not, Config{}, nil, nil)

	jobID := seedJob(t, store, "dQw4w9WgXcQ", "export fails")

	res, err := r.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("res = %+v, export failure must not fail the job", res)
	}

	job, _, _ := store.GetJob(context.Background(), jobID)
	if job.Status != ingest.JobDone {
		t.Errorf("Status = %q, want done", job.Status)
	}
	if job.Result.DocURL != "" {
		t.Errorf("DocURL = %q, want empty after failed export", job.Result.DocURL)
	}

	// Notification still goes out, without a doc link.
	not.mu.Lock()
	defer not.mu.Unlock()
	if len(not.sent) != 1 || not.sent[0].DocURL != "" {
		t.Errorf("notifications = %+v", not.sent)
	}
}

func TestProcessBatch_NotifyFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	r := New(store, &fakeSummarizer{}, &fakeExporter{}, &fakeNotifier{err: errors.New("webhook 500")}, Config{}, nil, nil)

	jobID := seedJob(t, store, "dQw4w9WgXcQ", "notify fails")

	res, err := r.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("res = %+v", res)
	}
	job, _, _ := store.GetJob(context.Background(), jobID)
	if job.Status != ingest.JobDone {
		t.Errorf("Status = %q, want done", job.Status)
	}
}

func TestProcessBatch_NilSideEffects(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	r := New(store, &fakeSummarizer{}, nil, nil, Config{}, nil, nil)

	seedJob(t, store, "dQw4w9WgXcQ", "bare pipeline")

	res, err := r.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("res = %+v", res)
	}
}

func TestProcessBatch_MissingVideoFailsJob(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	// Job enqueued directly without its video.
	jobID := ulid.Make().String()
	_ = store.EnqueueJob(ctx, &ingest.Job{
		ID: jobID, VideoID: "ghost_vid_0", Status: ingest.JobPending, CreatedAt: time.Now().UTC(),
	})

	r := New(store, &fakeSummarizer{}, nil, nil, Config{}, nil, nil)
	res, err := r.ProcessBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("res = %+v", res)
	}
	job, _, _ := store.GetJob(ctx, jobID)
	if job.Status != ingest.JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
}

func TestProcessBatch_EmptyQueue(t *testing.T) {
	t.Parallel()

	r := New(memstore.New(), &fakeSummarizer{}, nil, nil, Config{}, nil, nil)
	res, err := r.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Processed != 0 || res.Succeeded != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestProcessBatch_RespectsLimit(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	sum := &fakeSummarizer{}
	r := New(store, sum, nil, nil, Config{Workers: 2}, nil, nil)

	ids := []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc", "ddddddddddd"}
	for _, id := range ids {
		seedJob(t, store, id, "video "+id)
	}

	res, err := r.ProcessBatch(context.Background(), 3)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if res.Processed != 3 || res.Succeeded != 3 {
		t.Fatalf("res = %+v", res)
	}

	res, err = r.ProcessBatch(context.Background(), 3)
	if err != nil {
		t.Fatalf("ProcessBatch second: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("second batch res = %+v", res)
	}
}

func TestConcurrentBatchesShareNoJobs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	sum := &fakeSummarizer{}
	r := New(store, sum, nil, nil, Config{Workers: 4}, nil, nil)

	const jobs = 20
	idChars := "abcdefghijklmnopqrst"
	for i := range jobs {
		id := strings.Repeat(string(idChars[i]), 11)
		seedJob(t, store, id, "video "+id)
	}

	const runners = 4
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	wg.Add(runners)
	for range runners {
		go func() {
			defer wg.Done()
			res, err := r.ProcessBatch(context.Background(), jobs)
			if err != nil {
				t.Errorf("ProcessBatch: %v", err)
				return
			}
			mu.Lock()
			total += res.Processed
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != jobs {
		t.Errorf("total processed = %d, want %d (no job claimed twice)", total, jobs)
	}
	sum.mu.Lock()
	defer sum.mu.Unlock()
	if sum.calls != jobs {
		t.Errorf("summarizer calls = %d, want %d", sum.calls, jobs)
	}
}

func TestProcessBatch_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	store := memstore.New()
	r := New(store, &fakeSummarizer{}, nil, nil, Config{}, nil, nil)
	seedJob(t, store, "dQw4w9WgXcQ", "traced")

	if _, err := r.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	spans := exporter.GetSpans()
	var found bool
	for _, s := range spans {
		if s.Name != "jobs.Process" {
			continue
		}
		found = true
		attrs := make(map[string]string)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsString()
		}
		if attrs["video.id"] != "dQw4w9WgXcQ" {
			t.Errorf("video.id attribute = %q", attrs["video.id"])
		}
		if attrs["job.id"] == "" {
			t.Error("job.id attribute missing")
		}
	}
	if !found {
		t.Errorf("no jobs.Process span recorded, got %d spans", len(spans))
	}
}

func TestRequeueStale(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	r := New(store, &fakeSummarizer{err: errors.New("hang")}, nil, nil, Config{}, nil, nil)

	seedJob(t, store, "dQw4w9WgXcQ", "stuck")

	// Claim directly so the job sits in processing.
	claimed, err := store.ClaimJobs(context.Background(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimJobs: %v %d", err, len(claimed))
	}

	// Nothing stale yet inside a generous window.
	n, err := r.RequeueStale(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("requeued = %d, want 0", n)
	}

	// A zero threshold sweeps everything currently processing.
	n, err = r.RequeueStale(context.Background(), -time.Second)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued = %d, want 1", n)
	}
}
