// Package memstore provides an in-memory implementation of ingest.Store.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
)

// Store holds the full pipeline state in memory. Suitable for dev/testing.
type Store struct {
	mu            sync.RWMutex
	channels      map[string]*ingest.Channel      // channel ID -> channel
	byExternal    map[string]string               // external ID -> channel ID
	videos        map[string]*ingest.Video        // video ID -> video
	jobs          map[string]*ingest.Job          // job ID -> job
	subscriptions map[string]*ingest.Subscription // channel ID -> subscription
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		channels:      make(map[string]*ingest.Channel),
		byExternal:    make(map[string]string),
		videos:        make(map[string]*ingest.Video),
		jobs:          make(map[string]*ingest.Job),
		subscriptions: make(map[string]*ingest.Subscription),
	}
}

// CreateChannel stores a copy of the channel. A duplicate ID or duplicate
// external ID yields ErrConflict.
func (s *Store) CreateChannel(_ context.Context, ch *ingest.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.ID]; ok {
		return ingest.ErrConflict
	}
	if ch.ExternalID != "" {
		if _, ok := s.byExternal[ch.ExternalID]; ok {
			return ingest.ErrConflict
		}
		s.byExternal[ch.ExternalID] = ch.ID
	}
	cp := *ch
	s.channels[ch.ID] = &cp
	return nil
}

// GetChannel retrieves a channel by its internal ID. Returns a copy.
func (s *Store) GetChannel(_ context.Context, id string) (*ingest.Channel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, false, nil
	}
	cp := *ch
	return &cp, true, nil
}

// GetChannelByExternalID retrieves a channel by its catalog ID. Returns a copy.
func (s *Store) GetChannelByExternalID(_ context.Context, externalID string) (*ingest.Channel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, false, nil
	}
	ch := s.channels[id]
	cp := *ch
	return &cp, true, nil
}

// ListChannels returns copies of channels matching the filter, ordered by ID.
func (s *Store) ListChannels(_ context.Context, f ingest.ChannelFilter) ([]ingest.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[string]bool
	if len(f.ExternalIDs) > 0 {
		wanted = make(map[string]bool, len(f.ExternalIDs))
		for _, ext := range f.ExternalIDs {
			wanted[ext] = true
		}
	}

	out := make([]ingest.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if f.EnabledOnly && !ch.Enabled {
			continue
		}
		if wanted != nil && !wanted[ch.ExternalID] {
			continue
		}
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetChannelExternalID records a lazily resolved catalog ID.
func (s *Store) SetChannelExternalID(_ context.Context, id, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return ingest.ErrNotFound
	}
	if ch.ExternalID != "" {
		delete(s.byExternal, ch.ExternalID)
	}
	ch.ExternalID = externalID
	ch.UpdatedAt = time.Now().UTC()
	s.byExternal[externalID] = id
	return nil
}

// SetChannelUploadsPlaylist caches the resolved uploads playlist ID.
func (s *Store) SetChannelUploadsPlaylist(_ context.Context, id, playlistID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return ingest.ErrNotFound
	}
	ch.UploadsPlaylist = playlistID
	ch.UpdatedAt = time.Now().UTC()
	return nil
}

// GetVideo retrieves a video by its canonical ID. Returns a copy.
func (s *Store) GetVideo(_ context.Context, videoID string) (*ingest.Video, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[videoID]
	if !ok {
		return nil, false, nil
	}
	cp := *v
	return &cp, true, nil
}

// ExistingVideoIDs reports which of the given IDs are already stored.
func (s *Store) ExistingVideoIDs(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.videos[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// CreateVideo stores a copy of the video. A duplicate ID yields ErrConflict.
func (s *Store) CreateVideo(_ context.Context, v *ingest.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[v.VideoID]; ok {
		return ingest.ErrConflict
	}
	cp := *v
	s.videos[v.VideoID] = &cp
	return nil
}

// UpdateVideoEvent refreshes the event marker and raw payload of an
// existing video.
func (s *Store) UpdateVideoEvent(_ context.Context, videoID, eventType string, rawPayload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[videoID]
	if !ok {
		return ingest.ErrNotFound
	}
	v.EventType = eventType
	if len(rawPayload) > 0 {
		v.RawPayload = rawPayload
	}
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// ListVideoKeys returns every stored video's ID and source URL.
func (s *Store) ListVideoKeys(_ context.Context) ([]ingest.VideoKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.VideoKey, 0, len(s.videos))
	for _, v := range s.videos {
		out = append(out, ingest.VideoKey{VideoID: v.VideoID, SourceURL: v.SourceURL})
	}
	return out, nil
}

// FindVideoByDateTitle looks up a video in the channel published on the
// given date (YYYY-MM-DD, UTC) whose title starts with titlePrefix.
func (s *Store) FindVideoByDateTitle(_ context.Context, channelID, date, titlePrefix string) (*ingest.Video, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.videos {
		if v.ChannelID != channelID {
			continue
		}
		if v.PublishedAt.UTC().Format("2006-01-02") != date {
			continue
		}
		if strings.HasPrefix(v.Title, titlePrefix) {
			cp := *v
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// EnqueueJob stores a copy of the job unless a non-terminal job already
// exists for the same video, in which case it is a no-op.
func (s *Store) EnqueueJob(_ context.Context, j *ingest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.VideoID == j.VideoID && !existing.Status.Terminal() {
			return nil
		}
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

// GetJob retrieves a job by its ID. Returns a copy.
func (s *Store) GetJob(_ context.Context, id string) (*ingest.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *j
	return &cp, true, nil
}

// ClaimJobs atomically moves up to limit pending jobs to processing,
// oldest-created-first, and returns copies of the claimed jobs.
func (s *Store) ClaimJobs(_ context.Context, limit int) ([]ingest.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*ingest.Job, 0)
	for _, j := range s.jobs {
		if j.Status == ingest.JobPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now().UTC()
	out := make([]ingest.Job, 0, len(pending))
	for _, j := range pending {
		j.Status = ingest.JobProcessing
		started := now
		j.StartedAt = &started
		out = append(out, *j)
	}
	return out, nil
}

// CompleteJob marks a processing job done and records its result.
func (s *Store) CompleteJob(_ context.Context, id string, res ingest.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ingest.ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = ingest.JobDone
	j.FinishedAt = &now
	j.Result = res
	j.Error = ""
	return nil
}

// FailJob marks a processing job failed and records the error detail.
func (s *Store) FailJob(_ context.Context, id string, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ingest.ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = ingest.JobFailed
	j.FinishedAt = &now
	j.Error = errDetail
	return nil
}

// RequeueStale returns processing jobs started before the cutoff to
// pending, reporting how many were flipped.
func (s *Store) RequeueStale(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status != ingest.JobProcessing || j.StartedAt == nil {
			continue
		}
		if j.StartedAt.Before(before) {
			j.Status = ingest.JobPending
			j.StartedAt = nil
			n++
		}
	}
	return n, nil
}

// UpsertSubscription inserts or replaces the channel's subscription.
func (s *Store) UpsertSubscription(_ context.Context, sub *ingest.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subscriptions[sub.ChannelID] = &cp
	return nil
}

// GetSubscription retrieves the channel's subscription. Returns a copy.
func (s *Store) GetSubscription(_ context.Context, channelID string) (*ingest.Subscription, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[channelID]
	if !ok {
		return nil, false, nil
	}
	cp := *sub
	return &cp, true, nil
}

// ListExpiringSubscriptions returns subscribed leases expiring at or
// before the deadline, soonest first.
func (s *Store) ListExpiringSubscriptions(_ context.Context, deadline time.Time) ([]ingest.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Status != ingest.SubSubscribed {
			continue
		}
		if !sub.LeaseExpiresAt.After(deadline) {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaseExpiresAt.Before(out[j].LeaseExpiresAt) })
	return out, nil
}
