// Package catalog looks up channel and video metadata in the YouTube Data
// API. It is the poll path's upstream: resolving handles to channel IDs,
// finding uploads playlists, and fetching per-video details.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/channelwatch/internal/ingest"
)

// detailBatchSize is the API's maximum number of video IDs per list call.
const detailBatchSize = 50

// defaultCallTimeout bounds each individual API round trip. Batched
// operations get a fresh budget per call, not one deadline for the lot.
const defaultCallTimeout = 30 * time.Second

// ChannelInfo is the catalog's view of a channel.
type ChannelInfo struct {
	ID              string
	Title           string
	UploadsPlaylist string
}

// VideoDetail is the catalog's view of a single video.
type VideoDetail struct {
	ID                string
	Title             string
	Description       string
	PublishedAt       time.Time
	ExternalChannelID string
	Duration          string
	ViewCount         uint64
}

// Client wraps the YouTube Data API with rate limiting and error mapping.
type Client struct {
	svc         *youtube.Service
	limiter     *rate.Limiter
	logger      log.Logger
	callTimeout time.Duration
}

// New builds a Client authenticated with the given API key. Extra options
// (endpoint overrides, custom HTTP clients) are appended for tests.
func New(ctx context.Context, apiKey string, logger log.Logger, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("catalog: api key is required")
	}
	if logger == nil {
		logger = log.Nop()
	}

	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	return &Client{
		svc: svc,
		// The v3 API allows bursts well above sustained quota; 8 rps with
		// a small burst keeps a full poll cycle under the daily budget.
		limiter:     rate.NewLimiter(rate.Limit(8), 10),
		logger:      logger.With("component", "catalog"),
		callTimeout: defaultCallTimeout,
	}, nil
}

// callCtx bounds one API round trip. The limiter wait runs on the
// caller's context so queueing does not eat into the call budget.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// ChannelByID fetches a channel by its UC... identifier.
func (c *Client) ChannelByID(ctx context.Context, externalID string) (*ChannelInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := c.callCtx(ctx)
	resp, err := c.svc.Channels.List([]string{"id", "snippet", "contentDetails"}).
		Id(externalID).Context(callCtx).Do()
	cancel()
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Items) == 0 {
		return nil, ingest.ErrNotFound
	}
	return channelInfo(resp.Items[0]), nil
}

// ChannelByHandle resolves an @handle to a channel. Handles that the
// channels endpoint cannot resolve fall back to a search query.
func (c *Client) ChannelByHandle(ctx context.Context, handle string) (*ChannelInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := c.callCtx(ctx)
	resp, err := c.svc.Channels.List([]string{"id", "snippet", "contentDetails"}).
		ForHandle(handle).Context(callCtx).Do()
	cancel()
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Items) > 0 {
		return channelInfo(resp.Items[0]), nil
	}

	c.logger.Info(ctx, "handle not found directly, falling back to search", "handle", handle)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel = c.callCtx(ctx)
	search, err := c.svc.Search.List([]string{"snippet"}).
		Q(handle).Type("channel").MaxResults(1).Context(callCtx).Do()
	cancel()
	if err != nil {
		return nil, mapError(err)
	}
	if len(search.Items) == 0 || search.Items[0].Snippet == nil {
		return nil, ingest.ErrNotFound
	}
	return c.ChannelByID(ctx, search.Items[0].Snippet.ChannelId)
}

// PlaylistVideoIDs returns the IDs of the newest max entries in a playlist.
func (c *Client) PlaylistVideoIDs(ctx context.Context, playlistID string, max int) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if max <= 0 || max > detailBatchSize {
		max = detailBatchSize
	}

	callCtx, cancel := c.callCtx(ctx)
	resp, err := c.svc.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(playlistID).MaxResults(int64(max)).Context(callCtx).Do()
	cancel()
	if err != nil {
		return nil, mapError(err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
			continue
		}
		ids = append(ids, item.ContentDetails.VideoId)
	}
	return ids, nil
}

// VideoDetails fetches full metadata for the given video IDs, batching
// requests at the API limit. IDs the API does not return are silently
// absent from the result.
func (c *Client) VideoDetails(ctx context.Context, ids []string) ([]VideoDetail, error) {
	out := make([]VideoDetail, 0, len(ids))

	for start := 0; start < len(ids); start += detailBatchSize {
		end := start + detailBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := c.callCtx(ctx)
		resp, err := c.svc.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
			Id(ids[start:end]...).Context(callCtx).Do()
		cancel()
		if err != nil {
			return nil, mapError(err)
		}

		for _, item := range resp.Items {
			d := VideoDetail{ID: item.Id}
			if item.Snippet != nil {
				d.Title = item.Snippet.Title
				d.Description = item.Snippet.Description
				d.ExternalChannelID = item.Snippet.ChannelId
				if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
					d.PublishedAt = t
				}
			}
			if item.ContentDetails != nil {
				d.Duration = item.ContentDetails.Duration
			}
			if item.Statistics != nil {
				d.ViewCount = item.Statistics.ViewCount
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func channelInfo(ch *youtube.Channel) *ChannelInfo {
	info := &ChannelInfo{ID: ch.Id}
	if ch.Snippet != nil {
		info.Title = ch.Snippet.Title
	}
	if ch.ContentDetails != nil && ch.ContentDetails.RelatedPlaylists != nil {
		info.UploadsPlaylist = ch.ContentDetails.RelatedPlaylists.Uploads
	}
	return info
}

// mapError folds googleapi failures into the upstream error taxonomy so
// callers can distinguish throttling from hard failures.
func mapError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &ingest.UpstreamError{System: "youtube", Kind: ingest.UpstreamUnavailable, Err: err}
	}

	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return &ingest.UpstreamError{System: "youtube", Kind: ingest.UpstreamRateLimited, Err: err}
	case gerr.Code == http.StatusForbidden && hasReason(gerr, "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded"):
		return &ingest.UpstreamError{System: "youtube", Kind: ingest.UpstreamRateLimited, Err: err}
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		return &ingest.UpstreamError{System: "youtube", Kind: ingest.UpstreamAuth, Err: err}
	default:
		return &ingest.UpstreamError{System: "youtube", Kind: ingest.UpstreamUnavailable, Err: err}
	}
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}
