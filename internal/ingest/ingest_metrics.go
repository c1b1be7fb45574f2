package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the intake pipeline and job runner.
type Metrics struct {
	IngestTotal     *prometheus.CounterVec
	DedupHitsTotal  *prometheus.CounterVec
	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	PollChannels    *prometheus.CounterVec
	PollNewVideos   prometheus.Counter
	RenewalsTotal   *prometheus.CounterVec
	SideCallsTotal  *prometheus.CounterVec
	RequeuedStale   prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelwatch_ingest_total",
			Help: "Ingestion events by origin and outcome.",
		}, []string{"origin", "outcome"}),
		DedupHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelwatch_dedup_hits_total",
			Help: "Duplicate matches by dedup stage.",
		}, []string{"stage"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelwatch_jobs_total",
			Help: "Job state transitions by resulting status.",
		}, []string{"status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "channelwatch_job_duration_seconds",
			Help:    "Duration of job processing in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"status"}),
		PollChannels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelwatch_poll_channels_total",
			Help: "Per-channel poll outcomes.",
		}, []string{"outcome"}),
		PollNewVideos: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "channelwatch_poll_new_videos_total",
			Help: "New videos discovered by polling.",
		}),
		RenewalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelwatch_lease_renewals_total",
			Help: "Subscription lease renewal attempts by result.",
		}, []string{"result"}),
		SideCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelwatch_side_calls_total",
			Help: "Best-effort export/notify calls by sink and result.",
		}, []string{"sink", "result"}),
		RequeuedStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "channelwatch_jobs_requeued_stale_total",
			Help: "Processing jobs returned to pending by the stale sweep.",
		}),
	}

	reg.MustRegister(
		m.IngestTotal,
		m.DedupHitsTotal,
		m.JobsTotal,
		m.JobDuration,
		m.PollChannels,
		m.PollNewVideos,
		m.RenewalsTotal,
		m.SideCallsTotal,
		m.RequeuedStale,
	)

	return m
}

// NopMetrics returns metrics backed by a throwaway registry, for tests and
// callers that do not export.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
