// Package poll implements the pull side of ingestion: walking each
// tracked channel's uploads playlist and feeding unseen videos through
// the ingest pipeline. It backstops push notifications the hub dropped.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/channelwatch/internal/catalog"
	"github.com/linnemanlabs/channelwatch/internal/ingest"
	"github.com/linnemanlabs/channelwatch/internal/videoid"
)

// DefaultMaxResults is how many newest playlist entries a poll examines
// per channel unless the caller asks for more.
const DefaultMaxResults = 3

// Catalog is the upstream metadata source the poller reads from.
type Catalog interface {
	ChannelByID(ctx context.Context, externalID string) (*catalog.ChannelInfo, error)
	ChannelByHandle(ctx context.Context, handle string) (*catalog.ChannelInfo, error)
	PlaylistVideoIDs(ctx context.Context, playlistID string, max int) ([]string, error)
	VideoDetails(ctx context.Context, ids []string) ([]catalog.VideoDetail, error)
}

// Options narrows a poll run.
type Options struct {
	// ExternalIDs restricts the run to specific channels. Empty polls all
	// enabled channels.
	ExternalIDs []string
	// MaxResults overrides DefaultMaxResults when positive.
	MaxResults int
}

// Result is the aggregate outcome of one poll run.
type Result struct {
	Processed int      `json:"processed"`
	NewVideos int      `json:"newVideos"`
	Errors    []string `json:"errors,omitempty"`
}

// Poller walks channels' uploads playlists and ingests unseen videos.
type Poller struct {
	store   ingest.Store
	catalog Catalog
	ingest  *ingest.Service
	logger  log.Logger
	metrics *ingest.Metrics
	workers int
}

// New creates a Poller. workers bounds concurrent per-channel polls.
func New(store ingest.Store, cat Catalog, svc *ingest.Service, logger log.Logger, metrics *ingest.Metrics, workers int) *Poller {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = log.Nop()
	}
	if metrics == nil {
		metrics = ingest.NopMetrics()
	}
	return &Poller{
		store:   store,
		catalog: cat,
		ingest:  svc,
		logger:  logger.With("component", "poll"),
		metrics: metrics,
		workers: workers,
	}
}

// Run polls every selected channel. Per-channel failures are collected
// into the result; only listing the channels themselves can fail the run.
func (p *Poller) Run(ctx context.Context, opts Options) (*Result, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	channels, err := p.store.ListChannels(ctx, ingest.ChannelFilter{
		EnabledOnly: true,
		ExternalIDs: opts.ExternalIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("poll: list channels: %w", err)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.workers)
		res = Result{}
	)

	for i := range channels {
		ch := channels[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			created, err := p.pollChannel(ctx, &ch, maxResults)

			mu.Lock()
			defer mu.Unlock()
			res.Processed++
			res.NewVideos += created
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ch.Name, err))
				p.metrics.PollChannels.WithLabelValues("error").Inc()
				p.logger.Error(ctx, err, "channel poll failed", "channel", ch.ID, "name", ch.Name)
			} else {
				p.metrics.PollChannels.WithLabelValues("ok").Inc()
			}
		}()
	}
	wg.Wait()

	p.metrics.PollNewVideos.Add(float64(res.NewVideos))
	p.logger.Info(ctx, "poll run complete",
		"channels", res.Processed, "new_videos", res.NewVideos, "errors", len(res.Errors))
	return &res, nil
}

func (p *Poller) pollChannel(ctx context.Context, ch *ingest.Channel, maxResults int) (int, error) {
	playlist, err := p.uploadsPlaylist(ctx, ch)
	if err != nil {
		return 0, err
	}

	ids, err := p.catalog.PlaylistVideoIDs(ctx, playlist, maxResults)
	if err != nil {
		return 0, fmt.Errorf("list playlist: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Cheap existence precheck keeps detail lookups off known videos.
	existing, err := p.store.ExistingVideoIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("check existing: %w", err)
	}
	unseen := ids[:0:0]
	for _, id := range ids {
		if !existing[id] {
			unseen = append(unseen, id)
		}
	}
	if len(unseen) == 0 {
		return 0, nil
	}

	details, err := p.catalog.VideoDetails(ctx, unseen)
	if err != nil {
		return 0, fmt.Errorf("video details: %w", err)
	}

	created := 0
	for _, d := range details {
		raw, err := json.Marshal(d)
		if err != nil {
			return created, fmt.Errorf("marshal detail %s: %w", d.ID, err)
		}
		res, err := p.ingest.Ingest(ctx, &ingest.Candidate{
			VideoID:     d.ID,
			SourceURL:   videoid.WatchURL(d.ID),
			ChannelID:   ch.ID,
			Title:       d.Title,
			Description: d.Description,
			PublishedAt: d.PublishedAt,
			Origin:      ingest.OriginPoll,
			EventType:   ingest.EventNewOrUpdate,
			RawPayload:  raw,
		})
		if err != nil {
			return created, fmt.Errorf("ingest %s: %w", d.ID, err)
		}
		if res.Outcome == ingest.OutcomeCreated {
			created++
		}
	}
	return created, nil
}

// uploadsPlaylist returns the channel's uploads playlist ID, resolving
// and caching it on first use. Channels registered by handle also get
// their external ID backfilled here.
func (p *Poller) uploadsPlaylist(ctx context.Context, ch *ingest.Channel) (string, error) {
	if ch.UploadsPlaylist != "" {
		return ch.UploadsPlaylist, nil
	}

	var (
		info *catalog.ChannelInfo
		err  error
	)
	switch {
	case ch.ExternalID != "":
		info, err = p.catalog.ChannelByID(ctx, ch.ExternalID)
	case ch.Handle != "":
		info, err = p.catalog.ChannelByHandle(ctx, ch.Handle)
	default:
		return "", fmt.Errorf("channel %s has neither external id nor handle", ch.ID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve channel: %w", err)
	}
	if info.UploadsPlaylist == "" {
		return "", fmt.Errorf("channel %s has no uploads playlist", ch.ID)
	}

	if ch.ExternalID == "" && info.ID != "" {
		if err := p.store.SetChannelExternalID(ctx, ch.ID, info.ID); err != nil {
			return "", fmt.Errorf("store external id: %w", err)
		}
		ch.ExternalID = info.ID
	}
	if err := p.store.SetChannelUploadsPlaylist(ctx, ch.ID, info.UploadsPlaylist); err != nil {
		return "", fmt.Errorf("store playlist: %w", err)
	}
	ch.UploadsPlaylist = info.UploadsPlaylist

	p.logger.Info(ctx, "resolved uploads playlist",
		"channel", ch.ID, "external_id", ch.ExternalID, "playlist", info.UploadsPlaylist)
	return info.UploadsPlaylist, nil
}
