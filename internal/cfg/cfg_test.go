package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		APIKey:                "test-key-123",
		CallbackBaseURL:       "https://watch.example.com",
		CallbackSecret:        "s3cret",
		LeaseSeconds:          432000,
		YouTubeAPIKey:         "yt-test-key",
		ClaudeAPIKey:          "sk-test-key",
		PollIntervalMinutes:   15,
		PollMaxResults:        3,
		JobIntervalSeconds:    30,
		JobBatchLimit:         10,
		RenewIntervalMinutes:  60,
		StaleAfterMinutes:     30,
		Workers:               4,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.LeaseSeconds != 432000 {
		t.Errorf("LeaseSeconds = %d, want 432000", c.LeaseSeconds)
	}
	if c.PollMaxResults != 3 {
		t.Errorf("PollMaxResults = %d, want 3", c.PollMaxResults)
	}
	if c.JobBatchLimit != 10 {
		t.Errorf("JobBatchLimit = %d, want 10", c.JobBatchLimit)
	}
	if c.StaleAfterMinutes != 30 {
		t.Errorf("StaleAfterMinutes = %d, want 30", c.StaleAfterMinutes)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/watch",
		"-youtube-api-key", "yt-override",
		"-claude-api-key", "sk-override",
		"-callback-base-url", "https://other.example.com",
		"-callback-secret", "hunter2",
		"-poll-max-results", "5",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://localhost/watch" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.YouTubeAPIKey != "yt-override" {
		t.Errorf("YouTubeAPIKey = %q", c.YouTubeAPIKey)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q", c.ClaudeAPIKey)
	}
	if c.CallbackBaseURL != "https://other.example.com" {
		t.Errorf("CallbackBaseURL = %q", c.CallbackBaseURL)
	}
	if c.PollMaxResults != 5 {
		t.Errorf("PollMaxResults = %d, want 5", c.PollMaxResults)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	mutated := func(mutate func(*Config)) Config {
		c := validBase()
		mutate(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "base is valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "push intake disabled entirely",
			cfg: mutated(func(c *Config) {
				c.CallbackBaseURL = ""
				c.CallbackSecret = ""
			}),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       mutated(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       mutated(func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       mutated(func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       mutated(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       mutated(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Required strings
		{
			name:      "empty api key",
			cfg:       mutated(func(c *Config) { c.APIKey = "" }),
			wantErr:   true,
			errSubstr: []string{"API_KEY"},
		},
		{
			name:      "empty youtube api key",
			cfg:       mutated(func(c *Config) { c.YouTubeAPIKey = "" }),
			wantErr:   true,
			errSubstr: []string{"YOUTUBE_API_KEY"},
		},
		{
			name:      "empty claude api key",
			cfg:       mutated(func(c *Config) { c.ClaudeAPIKey = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_API_KEY"},
		},
		// Callback pairing and shape
		{
			name:      "callback url without secret",
			cfg:       mutated(func(c *Config) { c.CallbackSecret = "" }),
			wantErr:   true,
			errSubstr: []string{"must be set together"},
		},
		{
			name:      "secret without callback url",
			cfg:       mutated(func(c *Config) { c.CallbackBaseURL = "" }),
			wantErr:   true,
			errSubstr: []string{"must be set together"},
		},
		{
			name:      "relative callback url",
			cfg:       mutated(func(c *Config) { c.CallbackBaseURL = "/just/a/path" }),
			wantErr:   true,
			errSubstr: []string{"CALLBACK_BASE_URL"},
		},
		{
			name:      "secret with slash",
			cfg:       mutated(func(c *Config) { c.CallbackSecret = "a/b" }),
			wantErr:   true,
			errSubstr: []string{"CALLBACK_SECRET"},
		},
		// Numeric knobs
		{
			name:      "zero lease",
			cfg:       mutated(func(c *Config) { c.LeaseSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"LEASE_SECONDS"},
		},
		{
			name:      "negative poll interval",
			cfg:       mutated(func(c *Config) { c.PollIntervalMinutes = -1 }),
			wantErr:   true,
			errSubstr: []string{"POLL_INTERVAL_MINUTES"},
		},
		{
			name:      "zero batch limit",
			cfg:       mutated(func(c *Config) { c.JobBatchLimit = 0 }),
			wantErr:   true,
			errSubstr: []string{"JOB_BATCH_LIMIT"},
		},
		{
			name:      "zero stale threshold",
			cfg:       mutated(func(c *Config) { c.StaleAfterMinutes = 0 }),
			wantErr:   true,
			errSubstr: []string{"STALE_AFTER_MINUTES"},
		},
		{
			name:      "too many workers",
			cfg:       mutated(func(c *Config) { c.Workers = 65 }),
			wantErr:   true,
			errSubstr: []string{"WORKERS"},
		},
		// Error accumulation
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"API_KEY", "YOUTUBE_API_KEY", "CLAUDE_API_KEY",
				"LEASE_SECONDS", "JOB_BATCH_LIMIT", "WORKERS",
			},
		},
		{
			name: "extreme negative values",
			cfg: mutated(func(c *Config) {
				c.DrainSeconds = math.MinInt32
				c.ShutdownBudgetSeconds = math.MinInt32
				c.APIPort = math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate_Budgets(f *testing.F) {
	seeds := []struct {
		drain, budget, port int
	}{
		{60, 90, 8080},
		{1, 2, 1},
		{299, 300, 65535},
		{0, 0, 0},
		{-1, -1, -1},
		{300, 300, 65535},
		{301, 302, 65536},
		{150, 100, 8080},
		{math.MinInt32, math.MinInt32, math.MinInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain

		allValid := drainOK && budgetOK && portOK && crossOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
