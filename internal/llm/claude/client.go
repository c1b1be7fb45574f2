// Package claude summarizes video content through the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
	"github.com/linnemanlabs/channelwatch/internal/jobs"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

const maxTokens = 1024

const systemPrompt = `You summarize YouTube video metadata for a channel-tracking service.
Respond with a single JSON object and nothing else:
{"summary": "<2-4 sentence summary>", "keyPoints": ["<point>", ...]}
Base the summary only on the metadata given. If the description is empty,
summarize what can be inferred from the title alone.`

// Client produces video summaries. It implements jobs.Summarizer.
type Client struct {
	api   anthropic.Client
	model anthropic.Model
}

// New creates a Claude-backed summarizer. An empty model falls back to
// DefaultModel. Extra options are mainly for tests.
func New(apiKey, model string, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("claude: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		api:   anthropic.NewClient(opts...),
		model: anthropic.Model(model),
	}, nil
}

// Summarize sends the video's metadata to the model and parses the
// structured result.
func (c *Client) Summarize(ctx context.Context, v *ingest.Video) (*jobs.Summary, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(v))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, fmt.Errorf("claude: empty response (stop_reason %q)", msg.StopReason)
	}

	return parseSummary(text), nil
}

func buildPrompt(v *ingest.Video) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", v.Title)
	if !v.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", v.PublishedAt.UTC().Format("2006-01-02"))
	}
	if v.SourceURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", v.SourceURL)
	}
	if v.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", v.Description)
	}
	return b.String()
}

// parseSummary accepts the requested JSON shape, tolerating code fences.
// Any other text becomes a plain summary without key points, so a
// misbehaving model degrades the result instead of failing the job.
func parseSummary(text string) *jobs.Summary {
	var payload struct {
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"keyPoints"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &payload); err != nil || payload.Summary == "" {
		return &jobs.Summary{Text: text}
	}
	return &jobs.Summary{Text: payload.Summary, KeyPoints: payload.KeyPoints}
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line.
		if lang := strings.TrimSpace(s[:i]); lang == "" || !strings.ContainsAny(lang, "{}") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
