// Package chat announces completed summaries to a Google Chat space via
// an incoming webhook.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/channelwatch/internal/jobs"
)

const (
	maxSummaryLen = 3000
	maxKeyPoints  = 8
	httpTimeout   = 10 * time.Second
)

// Notifier posts completed jobs to a Google Chat webhook. It implements
// jobs.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Notifier. The webhook URL must be set; leave the notifier
// unwired instead of constructing a disabled one.
func New(webhookURL string) (*Notifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("chat: webhook url is required")
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}, nil
}

// Notify posts a summary card to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, note *jobs.Notification) error {
	body, err := json.Marshal(buildMessage(note))
	if err != nil {
		return fmt.Errorf("chat: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(note *jobs.Notification) map[string]any {
	widgets := []map[string]any{summaryWidget(note)}
	if w := keyPointsWidget(note); w != nil {
		widgets = append(widgets, w)
	}
	if w := buttonsWidget(note); w != nil {
		widgets = append(widgets, w)
	}

	return map[string]any{
		"cardsV2": []map[string]any{{
			"cardId": "summary-" + note.Video.VideoID,
			"card": map[string]any{
				"header": cardHeader(note),
				"sections": []map[string]any{{
					"widgets": widgets,
				}},
			},
		}},
	}
}

func cardHeader(note *jobs.Notification) map[string]any {
	subtitle := "New video summary"
	if !note.Video.PublishedAt.IsZero() {
		subtitle = fmt.Sprintf("Published %s", note.Video.PublishedAt.UTC().Format("2006-01-02"))
	}
	return map[string]any{
		"title":    note.Video.Title,
		"subtitle": subtitle,
	}
}

func summaryWidget(note *jobs.Notification) map[string]any {
	text := truncate(note.Summary.Text, maxSummaryLen)
	if text == "" {
		text = "No summary available."
	}
	return map[string]any{
		"textParagraph": map[string]any{"text": text},
	}
}

func keyPointsWidget(note *jobs.Notification) map[string]any {
	points := note.Summary.KeyPoints
	if len(points) == 0 {
		return nil
	}
	if len(points) > maxKeyPoints {
		points = points[:maxKeyPoints]
	}
	var b strings.Builder
	b.WriteString("<b>Key points</b>")
	for _, p := range points {
		b.WriteString("<br>• ")
		b.WriteString(p)
	}
	return map[string]any{
		"textParagraph": map[string]any{"text": b.String()},
	}
}

func buttonsWidget(note *jobs.Notification) map[string]any {
	var buttons []map[string]any
	if note.Video.SourceURL != "" {
		buttons = append(buttons, linkButton("Watch", note.Video.SourceURL))
	}
	if note.DocURL != "" {
		buttons = append(buttons, linkButton("Open doc", note.DocURL))
	}
	if len(buttons) == 0 {
		return nil
	}
	return map[string]any{
		"buttonList": map[string]any{"buttons": buttons},
	}
}

func linkButton(label, url string) map[string]any {
	return map[string]any{
		"text": label,
		"onClick": map[string]any{
			"openLink": map[string]any{"url": url},
		},
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
