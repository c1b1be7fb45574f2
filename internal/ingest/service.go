package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Outcome labels for IngestResult and the ingest_total metric.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeDeleted   = "deleted"
	OutcomeDropped   = "dropped"
)

// IngestResult is the outcome of routing one candidate.
type IngestResult struct {
	VideoID string `json:"video_id,omitempty"`
	Outcome string `json:"outcome"`
	// Stage names the dedup stage that matched, for duplicates.
	Stage string `json:"stage,omitempty"`
}

// Service gates ingestion events through the Deduper and owns the
// create-video-then-enqueue-job step shared by both intake paths.
type Service struct {
	store   Store
	dedup   *Deduper
	logger  log.Logger
	metrics *Metrics
}

// NewService creates the ingestion service.
func NewService(store Store, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Service{
		store:   store,
		dedup:   NewDeduper(store),
		logger:  logger,
		metrics: metrics,
	}
}

// Ingest routes one new_or_update candidate: duplicates are absorbed
// (push duplicates refresh the stored event marker and raw payload),
// fresh candidates become a Video plus a pending Job. Candidates whose
// identifier cannot be determined and that match nothing heuristically are
// dropped rather than persisted without a canonical key.
func (s *Service) Ingest(ctx context.Context, c *Candidate) (*IngestResult, error) {
	match, err := s.dedup.Match(ctx, c)
	if err != nil {
		return nil, err
	}

	if match.Duplicate {
		s.metrics.IngestTotal.WithLabelValues(string(c.Origin), OutcomeDuplicate).Inc()
		s.metrics.DedupHitsTotal.WithLabelValues(match.Stage).Inc()

		// Re-notification refreshes the audit trail on the existing row.
		if c.Origin == OriginPush {
			if err := s.store.UpdateVideoEvent(ctx, match.ExistingID, c.EventType, c.RawPayload); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
		return &IngestResult{VideoID: match.ExistingID, Outcome: OutcomeDuplicate, Stage: match.Stage}, nil
	}

	id, ok := c.ResolveID()
	if !ok {
		s.metrics.IngestTotal.WithLabelValues(string(c.Origin), OutcomeDropped).Inc()
		s.logger.Warn(ctx, "dropping candidate without resolvable video id",
			"channel", c.ChannelID, "source_url", c.SourceURL, "title", c.Title)
		return &IngestResult{Outcome: OutcomeDropped}, nil
	}

	now := time.Now().UTC()
	v := &Video{
		VideoID:     id,
		ChannelID:   c.ChannelID,
		Title:       c.Title,
		Description: c.Description,
		PublishedAt: c.PublishedAt,
		SourceURL:   c.SourceURL,
		Origin:      c.Origin,
		EventType:   EventNewOrUpdate,
		RawPayload:  c.RawPayload,
		CreatedAt:   now,
	}
	if v.PublishedAt.IsZero() {
		v.PublishedAt = now
	}

	if err := s.store.CreateVideo(ctx, v); err != nil {
		// A concurrent intake won the race; the duplicate is absorbed.
		if errors.Is(err, ErrConflict) {
			s.metrics.IngestTotal.WithLabelValues(string(c.Origin), OutcomeDuplicate).Inc()
			return &IngestResult{VideoID: id, Outcome: OutcomeDuplicate, Stage: StageID}, nil
		}
		return nil, err
	}

	job := &Job{
		ID:        ulid.Make().String(),
		VideoID:   id,
		Status:    JobPending,
		CreatedAt: now,
	}
	if err := s.store.EnqueueJob(ctx, job); err != nil && !errors.Is(err, ErrConflict) {
		return nil, err
	}

	s.metrics.IngestTotal.WithLabelValues(string(c.Origin), OutcomeCreated).Inc()
	s.metrics.JobsTotal.WithLabelValues(string(JobPending)).Inc()
	s.logger.Info(ctx, "video ingested",
		"video_id", id, "channel", c.ChannelID, "origin", c.Origin, "title", c.Title)

	return &IngestResult{VideoID: id, Outcome: OutcomeCreated}, nil
}

// MarkDeleted records a deleted event on an already-known video. Deleted
// events never create videos or jobs; unknown videos are ignored.
func (s *Service) MarkDeleted(ctx context.Context, c *Candidate) (*IngestResult, error) {
	id, ok := c.ResolveID()
	if !ok {
		return &IngestResult{Outcome: OutcomeDropped}, nil
	}

	err := s.store.UpdateVideoEvent(ctx, id, EventDeleted, c.RawPayload)
	if errors.Is(err, ErrNotFound) {
		return &IngestResult{VideoID: id, Outcome: OutcomeDropped}, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.IngestTotal.WithLabelValues(string(c.Origin), OutcomeDeleted).Inc()
	return &IngestResult{VideoID: id, Outcome: OutcomeDeleted}, nil
}

// RegisterChannel creates a channel record if one does not already exist
// for the external ID (or, lacking one, the handle). Returns the stored
// channel.
func (s *Service) RegisterChannel(ctx context.Context, ch *Channel) (*Channel, error) {
	if ch.ExternalID != "" {
		if existing, ok, err := s.store.GetChannelByExternalID(ctx, ch.ExternalID); err != nil {
			return nil, err
		} else if ok {
			return existing, nil
		}
	} else if ch.Handle != "" {
		// Handle-only registrations dedup by scanning; the channel list
		// is small and this only runs at registration time.
		all, err := s.store.ListChannels(ctx, ChannelFilter{})
		if err != nil {
			return nil, err
		}
		for i := range all {
			if all[i].Handle == ch.Handle {
				return &all[i], nil
			}
		}
	}

	if ch.ID == "" {
		ch.ID = ulid.Make().String()
	}
	ch.CreatedAt = time.Now().UTC()
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		if errors.Is(err, ErrConflict) && ch.ExternalID != "" {
			existing, ok, gerr := s.store.GetChannelByExternalID(ctx, ch.ExternalID)
			if gerr == nil && ok {
				return existing, nil
			}
		}
		return nil, err
	}
	s.logger.Info(ctx, "channel registered", "channel", ch.ID, "name", ch.Name, "external_id", ch.ExternalID)
	return ch, nil
}
