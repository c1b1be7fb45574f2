// Package gdocs exports video summaries to Google Docs through an Apps
// Script web app endpoint.
package gdocs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/channelwatch/internal/jobs"
)

const httpTimeout = 30 * time.Second

// Exporter posts summaries to the Apps Script endpoint, which creates a
// document and returns its identifiers. It implements jobs.DocumentExporter.
type Exporter struct {
	scriptURL string
	client    *http.Client
}

// New creates an Exporter. The script URL must be set; leave the exporter
// unwired instead of constructing a disabled one.
func New(scriptURL string) (*Exporter, error) {
	if scriptURL == "" {
		return nil, fmt.Errorf("gdocs: script url is required")
	}
	return &Exporter{
		scriptURL: scriptURL,
		client:    &http.Client{Timeout: httpTimeout},
	}, nil
}

type exportRequest struct {
	VideoID     string   `json:"videoId"`
	Title       string   `json:"title"`
	SourceURL   string   `json:"sourceUrl,omitempty"`
	PublishedAt string   `json:"publishedAt,omitempty"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"keyPoints,omitempty"`
}

type exportResponse struct {
	DocID  string `json:"docId"`
	DocURL string `json:"docUrl"`
	Error  string `json:"error,omitempty"`
}

// Export creates a summary document and returns where it landed.
func (e *Exporter) Export(ctx context.Context, in *jobs.ExportInput) (*jobs.ExportResult, error) {
	payload := exportRequest{
		VideoID:   in.Video.VideoID,
		Title:     in.Video.Title,
		SourceURL: in.Video.SourceURL,
		Summary:   in.Summary.Text,
		KeyPoints: in.Summary.KeyPoints,
	}
	if !in.Video.PublishedAt.IsZero() {
		payload.PublishedAt = in.Video.PublishedAt.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gdocs: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.scriptURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gdocs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gdocs: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gdocs: script returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out exportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gdocs: decode response: %w", err)
	}
	// Apps Script web apps report failures with a 200 and an error field.
	if out.Error != "" {
		return nil, fmt.Errorf("gdocs: script error: %s", out.Error)
	}
	if out.DocID == "" && out.DocURL == "" {
		return nil, fmt.Errorf("gdocs: script returned no document reference")
	}
	return &jobs.ExportResult{DocID: out.DocID, DocURL: out.DocURL}, nil
}
