package websub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
)

const (
	// DefaultHubURL is Google's public WebSub hub for YouTube feeds.
	DefaultHubURL = "https://pubsubhubbub.appspot.com/subscribe"

	// DefaultLeaseSeconds is the lease requested on subscribe, five days.
	DefaultLeaseSeconds = 432000

	httpTimeout = 10 * time.Second
)

// topicRe pulls the external channel ID out of a topic URL.
var topicRe = regexp.MustCompile(`channel_id=([^&]+)`)

// TopicURL builds the feed topic for an external channel ID.
func TopicURL(externalID string) string {
	return "https://www.youtube.com/feeds/videos.xml?channel_id=" + externalID
}

// ChannelIDFromTopic extracts the external channel ID from a topic URL.
func ChannelIDFromTopic(topic string) (string, bool) {
	m := topicRe.FindStringSubmatch(topic)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Manager drives the subscription lifecycle against the hub: issuing
// subscribe requests, recording hub verifications, and renewing leases
// before they lapse.
type Manager struct {
	store          ingest.Store
	hubURL         string
	callbackBase   string
	callbackSecret string
	leaseSeconds   int
	client         *http.Client
	logger         log.Logger
	metrics        *ingest.Metrics
}

// ManagerConfig carries the knobs for NewManager.
type ManagerConfig struct {
	HubURL         string
	CallbackBase   string
	CallbackSecret string
	LeaseSeconds   int
}

// NewManager creates a subscription manager.
func NewManager(store ingest.Store, cfg ManagerConfig, logger log.Logger, metrics *ingest.Metrics) *Manager {
	if cfg.HubURL == "" {
		cfg.HubURL = DefaultHubURL
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = DefaultLeaseSeconds
	}
	if logger == nil {
		logger = log.Nop()
	}
	if metrics == nil {
		metrics = ingest.NopMetrics()
	}
	return &Manager{
		store:          store,
		hubURL:         cfg.HubURL,
		callbackBase:   strings.TrimRight(cfg.CallbackBase, "/"),
		callbackSecret: cfg.CallbackSecret,
		leaseSeconds:   cfg.LeaseSeconds,
		client:         &http.Client{Timeout: httpTimeout},
		logger:         logger.With("component", "websub"),
		metrics:        metrics,
	}
}

// CallbackURL is where the hub verifies and delivers notifications. The
// secret path segment is the callback's authentication.
func (m *Manager) CallbackURL() string {
	return m.callbackBase + "/api/v1/websub/callback/" + m.callbackSecret
}

// VerifySecret reports whether a callback path secret matches.
func (m *Manager) VerifySecret(secret string) bool {
	return secret != "" && secret == m.callbackSecret
}

// Subscribe asks the hub for a lease on the channel's topic. Hub
// acceptance (202/204) is authoritative: the subscription is persisted as
// subscribed immediately so renewal sweeps keep seeing it even if the
// hub's verification GET never arrives. RecordVerified later refreshes
// the lease with the length the hub actually granted.
func (m *Manager) Subscribe(ctx context.Context, ch *ingest.Channel) error {
	if ch.ExternalID == "" {
		return ingest.Validationf("channel %s has no external id", ch.ID)
	}

	topic := TopicURL(ch.ExternalID)
	form := url.Values{
		"hub.callback":      {m.CallbackURL()},
		"hub.topic":         {topic},
		"hub.verify":        {"async"},
		"hub.mode":          {"subscribe"},
		"hub.lease_seconds": {strconv.Itoa(m.leaseSeconds)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("websub: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return &ingest.UpstreamError{System: "hub", Kind: ingest.UpstreamUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ingest.UpstreamError{
			System: "hub",
			Kind:   ingest.UpstreamUnavailable,
			Err:    fmt.Errorf("hub returned %d: %s", resp.StatusCode, string(body)),
		}
	}

	now := time.Now().UTC()
	sub := &ingest.Subscription{
		ID:               ulid.Make().String(),
		ChannelID:        ch.ID,
		Topic:            topic,
		Callback:         m.CallbackURL(),
		Status:           ingest.SubSubscribed,
		LeaseExpiresAt:   now.Add(time.Duration(m.leaseSeconds) * time.Second),
		LastSubscribedAt: now,
	}
	if existing, found, err := m.store.GetSubscription(ctx, ch.ID); err != nil {
		return err
	} else if found {
		sub.ID = existing.ID
	}
	if err := m.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("websub: persist subscription: %w", err)
	}

	m.logger.Info(ctx, "subscription accepted",
		"channel", ch.ID, "topic", topic, "lease_seconds", m.leaseSeconds)
	return nil
}

// RecordVerified marks a subscription confirmed after the hub's GET
// verification. The lease length comes from hub.lease_seconds when the
// hub sends one. Topics for unknown channels are logged and dropped.
func (m *Manager) RecordVerified(ctx context.Context, topic string, leaseSeconds int) error {
	externalID, ok := ChannelIDFromTopic(topic)
	if !ok {
		m.logger.Warn(ctx, "verification for unparseable topic", "topic", topic)
		return nil
	}

	ch, found, err := m.store.GetChannelByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if !found {
		m.logger.Warn(ctx, "verification for unknown channel", "external_id", externalID)
		return nil
	}

	if leaseSeconds <= 0 {
		leaseSeconds = m.leaseSeconds
	}

	now := time.Now().UTC()
	sub := &ingest.Subscription{
		ID:               ulid.Make().String(),
		ChannelID:        ch.ID,
		Topic:            topic,
		Callback:         m.CallbackURL(),
		Status:           ingest.SubSubscribed,
		LeaseExpiresAt:   now.Add(time.Duration(leaseSeconds) * time.Second),
		LastSubscribedAt: now,
	}
	if existing, found, err := m.store.GetSubscription(ctx, ch.ID); err == nil && found {
		sub.ID = existing.ID
		sub.LastSubscribedAt = existing.LastSubscribedAt
	} else if err != nil {
		return err
	}

	if err := m.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("websub: persist verification: %w", err)
	}

	m.logger.Info(ctx, "subscription verified",
		"channel", ch.ID, "lease_seconds", leaseSeconds,
		"lease_expires_at", sub.LeaseExpiresAt.Format(time.RFC3339))
	return nil
}

// RenewExpiring re-subscribes every lease expiring within the horizon.
// Failures are collected so one broken channel does not stall the rest.
func (m *Manager) RenewExpiring(ctx context.Context, within time.Duration) (int, error) {
	deadline := time.Now().UTC().Add(within)
	expiring, err := m.store.ListExpiringSubscriptions(ctx, deadline)
	if err != nil {
		return 0, err
	}

	var (
		renewed int
		errs    []error
	)
	for _, sub := range expiring {
		ch, found, err := m.store.GetChannel(ctx, sub.ChannelID)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", sub.ChannelID, err))
			m.metrics.RenewalsTotal.WithLabelValues("error").Inc()
			continue
		}
		if !found || !ch.Enabled {
			m.metrics.RenewalsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if err := m.Subscribe(ctx, ch); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", sub.ChannelID, err))
			m.metrics.RenewalsTotal.WithLabelValues("error").Inc()
			continue
		}
		renewed++
		m.metrics.RenewalsTotal.WithLabelValues("ok").Inc()
	}

	return renewed, errors.Join(errs...)
}
