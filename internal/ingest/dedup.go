package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/linnemanlabs/channelwatch/internal/videoid"
)

// titlePrefixLen is the number of leading title runes compared by the
// heuristic dedup stage. Upstream metadata for the same video can arrive
// with slightly different trailing text from push vs. poll sources.
const titlePrefixLen = 10

// Dedup stage names, reported in MatchResult and metrics.
const (
	StageID        = "id"
	StageLegacy    = "legacy_scan"
	StageDateTitle = "date_title"
)

// Candidate is one ingestion event before dedup.
type Candidate struct {
	// VideoID is the declared identifier, if the source carried one
	// (push notifications do; poll details do). May be empty.
	VideoID string
	// SourceURL is the content URL the identifier is extracted from when
	// VideoID is empty.
	SourceURL   string
	ChannelID   string // internal Channel.ID
	Title       string
	Description string
	PublishedAt time.Time
	Origin      Origin
	EventType   string
	RawPayload  json.RawMessage
}

// ResolveID returns the candidate's canonical identifier, extracting it
// from the source URL when not declared directly.
func (c *Candidate) ResolveID() (string, bool) {
	if videoid.Valid(c.VideoID) {
		return c.VideoID, true
	}
	return videoid.Extract(c.SourceURL)
}

// MatchResult is the outcome of duplicate matching.
type MatchResult struct {
	Duplicate  bool
	ExistingID string
	// Stage names the matching stage that hit, empty on a miss.
	Stage string
}

// Deduper decides whether a candidate describes an already-recorded video.
// Matching runs in strictly ordered stages and returns at the first hit:
//
//  1. exact identifier lookup,
//  2. linear scan re-extracting identifiers from stored source URLs
//     (legacy records persisted before extraction was reliable),
//  3. channel-scoped publication-date + title-prefix heuristic.
//
// Stage 3 can in principle merge two distinct same-day videos whose titles
// share the first 10 characters; it never matches across channels, and a
// miss only costs a duplicate job, which downstream absorbs idempotently.
type Deduper struct {
	store Store
}

// NewDeduper builds a Deduper over the given store.
func NewDeduper(store Store) *Deduper {
	return &Deduper{store: store}
}

// Match runs the staged duplicate check for one candidate.
func (d *Deduper) Match(ctx context.Context, c *Candidate) (MatchResult, error) {
	id, haveID := c.ResolveID()

	if haveID {
		// Stage 1: authoritative and cheap.
		if _, ok, err := d.store.GetVideo(ctx, id); err != nil {
			return MatchResult{}, err
		} else if ok {
			return MatchResult{Duplicate: true, ExistingID: id, Stage: StageID}, nil
		}

		// Stage 2: legacy rows may hold the same video under a URL the
		// identifier was never extracted from.
		keys, err := d.store.ListVideoKeys(ctx)
		if err != nil {
			return MatchResult{}, err
		}
		for _, k := range keys {
			if extracted, ok := videoid.Extract(k.SourceURL); ok && extracted == id {
				return MatchResult{Duplicate: true, ExistingID: k.VideoID, Stage: StageLegacy}, nil
			}
		}
	}

	// Stage 3: lossy safety net, scoped to the candidate's own channel.
	if c.ChannelID == "" || c.Title == "" || c.PublishedAt.IsZero() {
		return MatchResult{}, nil
	}

	date := c.PublishedAt.UTC().Format("2006-01-02")
	v, ok, err := d.store.FindVideoByDateTitle(ctx, c.ChannelID, date, titlePrefix(c.Title))
	if err != nil {
		return MatchResult{}, err
	}
	if ok {
		return MatchResult{Duplicate: true, ExistingID: v.VideoID, Stage: StageDateTitle}, nil
	}

	return MatchResult{}, nil
}

func titlePrefix(title string) string {
	r := []rune(title)
	if len(r) <= titlePrefixLen {
		return title
	}
	return string(r[:titlePrefixLen])
}
