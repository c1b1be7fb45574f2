package ingest

import (
	"encoding/json"
	"time"
)

// Origin records which intake path produced a video.
type Origin string

const (
	// OriginPush means the video arrived via a WebSub notification.
	OriginPush Origin = "push"

	// OriginPoll means the video was discovered by polling the channel's
	// uploads playlist.
	OriginPoll Origin = "poll"
)

// Event kinds carried by push notifications.
const (
	EventNewOrUpdate = "new_or_update"
	EventDeleted     = "deleted"
)

// JobStatus tracks where an enrichment job is in its lifecycle.
type JobStatus string

const (
	// JobPending means created, not yet claimed by a worker.
	JobPending JobStatus = "pending"

	// JobProcessing means claimed by a worker, start time recorded.
	JobProcessing JobStatus = "processing"

	// JobDone means finished successfully.
	JobDone JobStatus = "done"

	// JobFailed means finished with an error. Failed jobs are only retried
	// by an explicit re-enqueue.
	JobFailed JobStatus = "failed"
)

// Terminal reports whether a job status is final for its invocation.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// SubscriptionStatus tracks the state of a channel's push-topic lease.
type SubscriptionStatus string

const (
	SubPending      SubscriptionStatus = "pending"
	SubSubscribed   SubscriptionStatus = "subscribed"
	SubUnsubscribed SubscriptionStatus = "unsubscribed"
)

// Channel is a tracked content source. The external ID (UC...) and uploads
// playlist handle may be resolved lazily after registration.
type Channel struct {
	ID               string    `json:"id"`
	ExternalID       string    `json:"channel_id,omitempty"`
	Name             string    `json:"name"`
	Handle           string    `json:"handle,omitempty"`
	Enabled          bool      `json:"enabled"`
	UploadsPlaylist  string    `json:"uploads_playlist_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// Video is one piece of tracked content, keyed by its canonical video ID.
// Immutable once created except for the event marker and raw payload,
// which are refreshed on re-notification.
type Video struct {
	VideoID     string          `json:"video_id"`
	ChannelID   string          `json:"channel_id"` // internal Channel.ID
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	SourceURL   string          `json:"source_url,omitempty"`
	Origin      Origin          `json:"origin"`
	EventType   string          `json:"event_type"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at,omitempty"`
}

// VideoKey is the minimal projection used by the legacy dedup scan:
// records persisted before identifier extraction was reliable are matched
// by re-extracting the ID from their stored source URL.
type VideoKey struct {
	VideoID   string
	SourceURL string
}

// JobResult is the payload stored when a job completes.
type JobResult struct {
	SummaryText string   `json:"summary_text"`
	KeyPoints   []string `json:"key_points,omitempty"`
	DocURL      string   `json:"doc_url,omitempty"`
	DocID       string   `json:"doc_id,omitempty"`
}

// Job is one enrichment unit tied 1:1 to a video. Records are retained
// indefinitely for audit; terminal states are never deleted.
type Job struct {
	ID         string     `json:"id"`
	VideoID    string     `json:"video_id"`
	Status     JobStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     JobResult  `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Subscription is the lease on a channel's push-notification topic.
// At most one per channel; it logically expires when LeaseExpiresAt passes
// without renewal.
type Subscription struct {
	ID               string             `json:"id"`
	ChannelID        string             `json:"channel_id"` // internal Channel.ID
	Topic            string             `json:"topic_url"`
	Callback         string             `json:"callback_url"`
	Status           SubscriptionStatus `json:"status"`
	LeaseExpiresAt   time.Time          `json:"lease_expires_at"`
	LastSubscribedAt time.Time          `json:"last_subscribed_at"`
}
