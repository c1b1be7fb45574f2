// Package websub handles the push side of ingestion: parsing hub
// notification feeds and managing topic subscriptions and their leases.
package websub

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// MaxPayloadBytes caps notification bodies. The hub sends small
// single-entry feeds; anything larger is rejected before parsing.
const MaxPayloadBytes = 1 << 20

const ytNamespace = "http://www.youtube.com/xml/schemas/2015"

// Notification is one entry extracted from a hub feed.
type Notification struct {
	VideoID           string
	ExternalChannelID string
	Deleted           bool
	Title             string
	Published         time.Time
	Link              string
	Author            string
	// RawPayload is the compact JSON snapshot of the entry stored with
	// the video for audit.
	RawPayload json.RawMessage
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	VideoID   string    `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string    `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Deleted   *struct{} `xml:"http://www.youtube.com/xml/schemas/2015 deleted"`
	Title     string    `xml:"title"`
	Published string    `xml:"published"`
	Updated   string    `xml:"updated"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Author struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

type rawEntry struct {
	Title     string `json:"title,omitempty"`
	Published string `json:"published,omitempty"`
	Updated   string `json:"updated,omitempty"`
	Link      string `json:"link,omitempty"`
	Author    string `json:"author,omitempty"`
}

// ParseFeed extracts notifications from an Atom feed body. Entries missing
// either the video or channel identifier are dropped; a feed with no
// usable entries is not an error.
func ParseFeed(body []byte) ([]Notification, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	out := make([]Notification, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		videoID := strings.TrimSpace(e.VideoID)
		channelID := strings.TrimSpace(e.ChannelID)
		if videoID == "" || channelID == "" {
			continue
		}

		n := Notification{
			VideoID:           videoID,
			ExternalChannelID: channelID,
			Deleted:           e.Deleted != nil,
			Title:             strings.TrimSpace(e.Title),
			Link:              e.Link.Href,
			Author:            strings.TrimSpace(e.Author.Name),
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			n.Published = t
		}

		raw, err := json.Marshal(rawEntry{
			Title:     n.Title,
			Published: strings.TrimSpace(e.Published),
			Updated:   strings.TrimSpace(e.Updated),
			Link:      n.Link,
			Author:    n.Author,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal raw payload: %w", err)
		}
		n.RawPayload = raw

		out = append(out, n)
	}
	return out, nil
}
