package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Config holds the application-specific settings; ambient concerns
// (logging, tracing, ops listener) register their own flag structs.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string
	APIKey      string

	CallbackBaseURL string
	CallbackSecret  string
	HubURL          string
	LeaseSeconds    int

	YouTubeAPIKey string
	ClaudeAPIKey  string
	ClaudeModel   string

	ChatWebhookURL string
	DocExportURL   string

	ChannelsFile string

	PollIntervalMinutes  int
	PollMaxResults       int
	JobIntervalSeconds   int
	JobBatchLimit        int
	RenewIntervalMinutes int
	StaleAfterMinutes    int
	Workers              int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.APIKey, "api-key", "", "key guarding the mutating trigger endpoints")
	fs.StringVar(&c.CallbackBaseURL, "callback-base-url", "", "externally reachable base URL for the websub callback (e.g. https://host)")
	fs.StringVar(&c.CallbackSecret, "callback-secret", "", "unguessable path segment authenticating hub callbacks")
	fs.StringVar(&c.HubURL, "hub-url", "", "websub hub endpoint (empty = default public hub)")
	fs.IntVar(&c.LeaseSeconds, "lease-seconds", 432000, "requested websub lease duration in seconds")
	fs.StringVar(&c.YouTubeAPIKey, "youtube-api-key", "", "YouTube Data API key for polling and channel resolution")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "", "Claude model to use (empty = provider default)")
	fs.StringVar(&c.ChatWebhookURL, "chat-webhook-url", "", "Google Chat webhook URL for summary notifications (empty = disabled)")
	fs.StringVar(&c.DocExportURL, "doc-export-url", "", "Apps Script web-app URL for document export (empty = disabled)")
	fs.StringVar(&c.ChannelsFile, "channels-file", "", "YAML file listing channels to seed at startup (empty = none)")
	fs.IntVar(&c.PollIntervalMinutes, "poll-interval-minutes", 15, "minutes between playlist poll sweeps (0 = disabled)")
	fs.IntVar(&c.PollMaxResults, "poll-max-results", 3, "newest playlist entries examined per channel per poll")
	fs.IntVar(&c.JobIntervalSeconds, "job-interval-seconds", 30, "seconds between enrichment job batches (0 = disabled)")
	fs.IntVar(&c.JobBatchLimit, "job-batch-limit", 10, "max jobs claimed per batch")
	fs.IntVar(&c.RenewIntervalMinutes, "renew-interval-minutes", 60, "minutes between subscription renewal sweeps (0 = disabled)")
	fs.IntVar(&c.StaleAfterMinutes, "stale-after-minutes", 30, "minutes after which a processing job counts as stuck")
	fs.IntVar(&c.Workers, "workers", 4, "concurrent workers for polls and job batches")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}

	// Push intake requires a reachable callback and its secret together.
	if (c.CallbackBaseURL == "") != (c.CallbackSecret == "") {
		errs = append(errs, errors.New("CALLBACK_BASE_URL and CALLBACK_SECRET must be set together"))
	}
	if c.CallbackBaseURL != "" {
		if u, err := url.Parse(c.CallbackBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid CALLBACK_BASE_URL %q (must be an absolute URL)", c.CallbackBaseURL))
		}
	}
	if c.CallbackSecret != "" && strings.ContainsAny(c.CallbackSecret, "/?#") {
		errs = append(errs, errors.New("CALLBACK_SECRET must be a single path segment"))
	}

	if c.LeaseSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid LEASE_SECONDS %d (must be positive)", c.LeaseSeconds))
	}

	// YouTube API key is required for polling and channel resolution
	if c.YouTubeAPIKey == "" {
		errs = append(errs, errors.New("YOUTUBE_API_KEY is required"))
	}

	// Claude API key is required for summarization
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	if c.PollIntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_MINUTES %d (must be >= 0)", c.PollIntervalMinutes))
	}
	if c.PollMaxResults <= 0 {
		errs = append(errs, fmt.Errorf("invalid POLL_MAX_RESULTS %d (must be positive)", c.PollMaxResults))
	}
	if c.JobIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid JOB_INTERVAL_SECONDS %d (must be >= 0)", c.JobIntervalSeconds))
	}
	if c.JobBatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("invalid JOB_BATCH_LIMIT %d (must be positive)", c.JobBatchLimit))
	}
	if c.RenewIntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("invalid RENEW_INTERVAL_MINUTES %d (must be >= 0)", c.RenewIntervalMinutes))
	}
	if c.StaleAfterMinutes <= 0 {
		errs = append(errs, fmt.Errorf("invalid STALE_AFTER_MINUTES %d (must be positive)", c.StaleAfterMinutes))
	}
	if c.Workers <= 0 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", c.Workers))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
