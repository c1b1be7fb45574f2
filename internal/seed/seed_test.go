package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linnemanlabs/channelwatch/internal/catalog"
	"github.com/linnemanlabs/channelwatch/internal/ingest"
	"github.com/linnemanlabs/channelwatch/internal/ingest/memstore"
)

const sampleYAML = `
channels:
  - name: Gopher Talks
    handle: "@gophertalks"
    channel_id: UCabc
  - name: Handle Only
    handle: "@handleonly"
  - name: Retired Channel
    channel_id: UCdef
    disabled: true
`

type fakeResolver struct {
	byHandle map[string]string
	err      error
}

func (f *fakeResolver) ChannelByHandle(_ context.Context, handle string) (*catalog.ChannelInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.byHandle[handle]
	if !ok {
		return nil, ingest.ErrNotFound
	}
	return &catalog.ChannelInfo{ID: id, Title: handle}, nil
}

func TestParse(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Channels) != 3 {
		t.Fatalf("channels = %d, want 3", len(f.Channels))
	}
	if f.Channels[0].ChannelID != "UCabc" || f.Channels[0].Handle != "@gophertalks" {
		t.Errorf("first entry = %+v", f.Channels[0])
	}
	if !f.Channels[2].Disabled {
		t.Error("third entry should be disabled")
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "channels: ["},
		{"missing name", "channels:\n  - handle: \"@x\""},
		{"missing identifiers", "channels:\n  - name: No IDs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	store := memstore.New()
	svc := ingest.NewService(store, nil, nil)
	res := &fakeResolver{byHandle: map[string]string{"@handleonly": "UChandle"}}

	n, err := Apply(context.Background(), f, svc, res, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 3 {
		t.Fatalf("registered = %d, want 3", n)
	}

	ctx := context.Background()
	if ch, ok, _ := store.GetChannelByExternalID(ctx, "UCabc"); !ok || !ch.Enabled {
		t.Errorf("UCabc = %+v ok=%v", ch, ok)
	}
	// Handle-only entry got its external ID from the resolver.
	if ch, ok, _ := store.GetChannelByExternalID(ctx, "UChandle"); !ok || ch.Handle != "@handleonly" {
		t.Errorf("UChandle = %+v ok=%v", ch, ok)
	}
	if ch, ok, _ := store.GetChannelByExternalID(ctx, "UCdef"); !ok || ch.Enabled {
		t.Errorf("disabled entry = %+v ok=%v", ch, ok)
	}
}

func TestApply_Idempotent(t *testing.T) {
	t.Parallel()

	f, _ := Parse([]byte(sampleYAML))
	store := memstore.New()
	svc := ingest.NewService(store, nil, nil)

	for range 2 {
		if _, err := Apply(context.Background(), f, svc, nil, nil); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	channels, err := store.ListChannels(context.Background(), ingest.ChannelFilter{})
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 3 {
		t.Errorf("channels = %d after reseeding, want 3", len(channels))
	}
}

func TestApply_ResolverFailureDefersToPoll(t *testing.T) {
	t.Parallel()

	f, _ := Parse([]byte("channels:\n  - name: Deferred\n    handle: \"@deferred\""))
	store := memstore.New()
	svc := ingest.NewService(store, nil, nil)
	res := &fakeResolver{err: errors.New("quota exceeded")}

	n, err := Apply(context.Background(), f, svc, res, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 1 {
		t.Fatalf("registered = %d, want 1", n)
	}

	channels, _ := store.ListChannels(context.Background(), ingest.ChannelFilter{})
	if len(channels) != 1 || channels[0].ExternalID != "" {
		t.Errorf("channels = %+v, want one with empty external id", channels)
	}
}

func TestApply_DedupsOntoExistingHandle(t *testing.T) {
	t.Parallel()

	f, _ := Parse([]byte(sampleYAML))
	store := memstore.New()
	svc := ingest.NewService(store, nil, nil)

	_ = store.CreateChannel(context.Background(), &ingest.Channel{
		ID: "pre", Name: "Pre-existing", Handle: "@handleonly",
	})

	n, err := Apply(context.Background(), f, svc, nil, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// The handle-only entry dedups onto the pre-existing record.
	if n != 3 {
		t.Errorf("registered = %d, want 3", n)
	}
	channels, _ := store.ListChannels(context.Background(), ingest.ChannelFilter{})
	if len(channels) != 3 {
		t.Errorf("channels = %d, want 3", len(channels))
	}
	for _, ch := range channels {
		if ch.Handle == "@handleonly" && ch.ID != "pre" {
			t.Errorf("handle dedup failed: %+v", ch)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/channels.yaml")
	if err == nil || !strings.Contains(err.Error(), "read") {
		t.Fatalf("err = %v", err)
	}
}
