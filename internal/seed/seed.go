// Package seed loads the tracked-channel list from a YAML file at
// startup.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/linnemanlabs/go-core/log"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/channelwatch/internal/catalog"
	"github.com/linnemanlabs/channelwatch/internal/ingest"
)

// Registrar stores seeded channels. Satisfied by ingest.Service.
type Registrar interface {
	RegisterChannel(ctx context.Context, ch *ingest.Channel) (*ingest.Channel, error)
}

// Resolver fills in a missing external ID from the channel's handle.
type Resolver interface {
	ChannelByHandle(ctx context.Context, handle string) (*catalog.ChannelInfo, error)
}

// File is the on-disk channel list.
type File struct {
	Channels []Entry `yaml:"channels"`
}

// Entry describes one tracked channel. Either channel_id or handle must
// be present.
type Entry struct {
	Name      string `yaml:"name"`
	Handle    string `yaml:"handle,omitempty"`
	ChannelID string `yaml:"channel_id,omitempty"`
	Disabled  bool   `yaml:"disabled,omitempty"`
}

// Load parses the channel list from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a channel list document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: parse: %w", err)
	}
	for i, e := range f.Channels {
		if e.Name == "" {
			return nil, fmt.Errorf("seed: channel %d: name is required", i)
		}
		if e.ChannelID == "" && e.Handle == "" {
			return nil, fmt.Errorf("seed: channel %q: channel_id or handle is required", e.Name)
		}
	}
	return &f, nil
}

// Apply registers every listed channel. A missing external ID is
// resolved through the resolver when one is given; otherwise it stays
// empty and is resolved lazily on first poll. Per-channel failures are
// joined so one bad entry does not block the rest.
func Apply(ctx context.Context, f *File, reg Registrar, res Resolver, logger log.Logger) (int, error) {
	if logger == nil {
		logger = log.Nop()
	}

	var errs []error
	registered := 0
	for _, e := range f.Channels {
		externalID := e.ChannelID
		if externalID == "" && res != nil {
			info, err := res.ChannelByHandle(ctx, e.Handle)
			if err != nil {
				logger.Warn(ctx, "seed handle resolution failed, deferring to poll",
					"channel", e.Name, "handle", e.Handle, "error", err.Error())
			} else {
				externalID = info.ID
			}
		}

		ch, err := reg.RegisterChannel(ctx, &ingest.Channel{
			Name:       e.Name,
			Handle:     e.Handle,
			ExternalID: externalID,
			Enabled:    !e.Disabled,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			continue
		}
		registered++
		logger.Info(ctx, "channel seeded",
			"channel", ch.ID, "name", ch.Name, "external_id", ch.ExternalID, "enabled", ch.Enabled)
	}
	return registered, errors.Join(errs...)
}
