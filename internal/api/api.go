// Package api exposes the HTTP surface: websub callback intake and the
// authenticated operator triggers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/channelwatch/internal/authmw"
	"github.com/linnemanlabs/channelwatch/internal/ingest"
	"github.com/linnemanlabs/channelwatch/internal/jobs"
	"github.com/linnemanlabs/channelwatch/internal/poll"
)

// Ingestor accepts candidates routed from push notifications.
type Ingestor interface {
	Ingest(ctx context.Context, c *ingest.Candidate) (*ingest.IngestResult, error)
	MarkDeleted(ctx context.Context, c *ingest.Candidate) (*ingest.IngestResult, error)
}

// Subscriber manages push-topic leases.
type Subscriber interface {
	VerifySecret(secret string) bool
	Subscribe(ctx context.Context, ch *ingest.Channel) error
	RecordVerified(ctx context.Context, topic string, leaseSeconds int) error
	RenewExpiring(ctx context.Context, within time.Duration) (int, error)
}

// Poller runs an on-demand poll sweep.
type Poller interface {
	Run(ctx context.Context, opts poll.Options) (*poll.Result, error)
}

// JobRunner drains the enrichment queue.
type JobRunner interface {
	ProcessBatch(ctx context.Context, limit int) (*jobs.BatchResult, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	store    ingest.Store
	ingestor Ingestor
	subs     Subscriber
	poller   Poller
	runner   JobRunner
	apiKey   string
}

// Config carries the API's dependencies.
type Config struct {
	Store    ingest.Store
	Ingestor Ingestor
	Subs     Subscriber
	Poller   Poller
	Runner   JobRunner
	// APIKey guards the mutating trigger endpoints.
	APIKey string
}

// New creates the API handler set.
func New(logger log.Logger, cfg Config) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		logger:   logger.With("component", "api"),
		store:    cfg.Store,
		ingestor: cfg.Ingestor,
		subs:     cfg.Subs,
		poller:   cfg.Poller,
		runner:   cfg.Runner,
		apiKey:   cfg.APIKey,
	}
}

// RegisterRoutes attaches API endpoints to the router. The websub
// callback authenticates by its secret path segment; everything mutating
// sits behind the API key.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/websub/callback/{secret}", a.handleVerify)
		r.Post("/websub/callback/{secret}", a.handleNotification)

		r.Get("/videos/{videoID}", a.handleGetVideo)
		r.Get("/jobs/{id}", a.handleGetJob)
		r.Get("/channels", a.handleListChannels)

		r.Group(func(r chi.Router) {
			r.Use(authmw.APIKey(a.apiKey))
			r.Post("/poll", a.handlePoll)
			r.Post("/jobs/run", a.handleRunJobs)
			r.Post("/jobs/requeue-stale", a.handleRequeueStale)
			r.Post("/subscriptions/subscribe", a.handleSubscribe)
			r.Post("/subscriptions/resubscribe", a.handleResubscribe)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes the request body, treating an empty body as the
// zero value so triggers work with bare POSTs.
func readJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *API) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "videoID")

	video, ok, err := a.store.GetVideo(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "get video failed", "video", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, ok, err := a.store.GetJob(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "get job failed", "job", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := a.store.ListChannels(r.Context(), ingest.ChannelFilter{})
	if err != nil {
		a.logger.Error(r.Context(), err, "list channels failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}
