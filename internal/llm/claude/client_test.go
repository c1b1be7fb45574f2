package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
)

func apiResponse(text string) string {
	body, _ := json.Marshal(map[string]any{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"model":       DefaultModel,
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
	})
	return string(body)
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New("test-key", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, apiResponse(`{"summary":"A launch recap.","keyPoints":["new api","pricing"]}`))
	})

	sum, err := c.Summarize(context.Background(), &ingest.Video{
		VideoID:     "dQw4w9WgXcQ",
		Title:       "Launch Day",
		Description: "We shipped the thing.",
		PublishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SourceURL:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Text != "A launch recap." {
		t.Errorf("Text = %q", sum.Text)
	}
	if len(sum.KeyPoints) != 2 || sum.KeyPoints[0] != "new api" {
		t.Errorf("KeyPoints = %v", sum.KeyPoints)
	}

	var req struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Model != DefaultModel {
		t.Errorf("model = %q", req.Model)
	}
	if req.MaxTokens != maxTokens {
		t.Errorf("max_tokens = %d", req.MaxTokens)
	}
	if len(req.System) != 1 || !strings.Contains(req.System[0].Text, "JSON object") {
		t.Errorf("system = %+v", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	prompt := req.Messages[0].Content[0].Text
	for _, want := range []string{"Launch Day", "We shipped the thing.", "2026-03-01"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSummarize_FencedJSON(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, apiResponse("```json\n{\"summary\":\"Fenced.\",\"keyPoints\":[]}\n```"))
	})

	sum, err := c.Summarize(context.Background(), &ingest.Video{Title: "x"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Text != "Fenced." {
		t.Errorf("Text = %q", sum.Text)
	}
}

func TestSummarize_PlainTextFallback(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, apiResponse("The video covers the quarterly roadmap."))
	})

	sum, err := c.Summarize(context.Background(), &ingest.Video{Title: "x"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Text != "The video covers the quarterly roadmap." {
		t.Errorf("Text = %q", sum.Text)
	}
	if len(sum.KeyPoints) != 0 {
		t.Errorf("KeyPoints = %v", sum.KeyPoints)
	}
}

func TestSummarize_APIError(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`, http.StatusInternalServerError)
	})

	if _, err := c.Summarize(context.Background(), &ingest.Video{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", "model"); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fence with lang", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence same line", "```{\"a\":1}\n```", `{"a":1}`},
		{"padded", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
