package ingest

import (
	"context"
	"encoding/json"
	"time"
)

// ChannelFilter narrows ListChannels. Zero value selects everything.
type ChannelFilter struct {
	EnabledOnly bool
	// ExternalIDs restricts to channels whose external catalog ID is in
	// the set. Empty means no restriction.
	ExternalIDs []string
}

// Store is the persistence interface for the pipeline. It is the single
// source of truth and sole arbiter of uniqueness: video IDs, the
// one-non-terminal-job-per-video rule, and the one-subscription-per-channel
// rule are all enforced here, not by callers.
type Store interface {
	// Channels.

	CreateChannel(ctx context.Context, ch *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, bool, error)
	GetChannelByExternalID(ctx context.Context, externalID string) (*Channel, bool, error)
	ListChannels(ctx context.Context, f ChannelFilter) ([]Channel, error)
	// SetChannelExternalID records a lazily resolved catalog ID.
	SetChannelExternalID(ctx context.Context, id, externalID string) error
	// SetChannelUploadsPlaylist caches the content-listing handle.
	SetChannelUploadsPlaylist(ctx context.Context, id, playlistID string) error

	// Videos.

	GetVideo(ctx context.Context, videoID string) (*Video, bool, error)
	// ExistingVideoIDs reports which of the given IDs are already stored.
	ExistingVideoIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// CreateVideo inserts a new video; a duplicate video ID yields
	// ErrConflict.
	CreateVideo(ctx context.Context, v *Video) error
	// UpdateVideoEvent refreshes the event marker and raw payload of an
	// existing video (re-notification path). ErrNotFound if absent.
	UpdateVideoEvent(ctx context.Context, videoID, eventType string, rawPayload json.RawMessage) error
	// ListVideoKeys returns every stored video's ID and source URL for the
	// legacy linear dedup scan.
	ListVideoKeys(ctx context.Context) ([]VideoKey, error)
	// FindVideoByDateTitle looks up a video in the given channel whose
	// publication date (date portion only, YYYY-MM-DD) matches and whose
	// title starts with titlePrefix.
	FindVideoByDateTitle(ctx context.Context, channelID, date, titlePrefix string) (*Video, bool, error)

	// Jobs.

	// EnqueueJob creates a pending job iff no non-terminal job exists for
	// the video; otherwise it is a no-op (the job's ID is then discarded).
	EnqueueJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, bool, error)
	// ClaimJobs atomically transitions up to limit pending jobs to
	// processing, oldest-created-first, recording start times. Concurrent
	// callers never receive the same job.
	ClaimJobs(ctx context.Context, limit int) ([]Job, error)
	CompleteJob(ctx context.Context, id string, res JobResult) error
	FailJob(ctx context.Context, id string, errDetail string) error
	// RequeueStale returns processing jobs started before the cutoff to
	// pending, reporting how many were flipped.
	RequeueStale(ctx context.Context, before time.Time) (int, error)

	// Subscriptions.

	// UpsertSubscription inserts or replaces the channel's subscription
	// (at most one per channel).
	UpsertSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, channelID string) (*Subscription, bool, error)
	// ListExpiringSubscriptions returns subscribed leases expiring at or
	// before the deadline.
	ListExpiringSubscriptions(ctx context.Context, deadline time.Time) ([]Subscription, error)
}
