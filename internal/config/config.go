// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	JenkinsURL       string
	JenkinsUsername  string
	JenkinsAPIToken  string
	JenkinsPublicURL string
	SlackWebhookURL  string

	PollInterval       time.Duration
	ListenAddr         string
	DBPath             string
	DefaultTriggeredBy string
	UpstreamTimeout    time.Duration
}

// AlertsEnabled returns true when a Slack webhook is configured. Without it
// the notification gate stays inactive and failed runs remain unclaimed.
func (c *Config) AlertsEnabled() bool {
	return c.SlackWebhookURL != ""
}

// Load reads configuration from a .env file (when present) and environment
// variables, and returns a validated Config. PIPEBOARD_JENKINS_URL is
// required. Optional variables with defaults: PIPEBOARD_POLL_INTERVAL (5s),
// PIPEBOARD_LISTEN_ADDR (127.0.0.1:8080), PIPEBOARD_DB_PATH (pipeboard.db),
// PIPEBOARD_DEFAULT_TRIGGERED_BY (unknown), PIPEBOARD_UPSTREAM_TIMEOUT (30s),
// PIPEBOARD_JENKINS_PUBLIC_URL (= PIPEBOARD_JENKINS_URL).
func Load() (*Config, error) {
	// Process environment wins over .env entries.
	_ = godotenv.Load()

	jenkinsURL := strings.TrimRight(os.Getenv("PIPEBOARD_JENKINS_URL"), "/")
	if jenkinsURL == "" {
		return nil, fmt.Errorf("PIPEBOARD_JENKINS_URL is required")
	}

	publicURL := jenkinsURL
	if v, ok := os.LookupEnv("PIPEBOARD_JENKINS_PUBLIC_URL"); ok && v != "" {
		publicURL = strings.TrimRight(v, "/")
	}

	pollInterval := 5 * time.Second
	if v, ok := os.LookupEnv("PIPEBOARD_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("PIPEBOARD_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		pollInterval = parsed
	}

	upstreamTimeout := 30 * time.Second
	if v, ok := os.LookupEnv("PIPEBOARD_UPSTREAM_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("PIPEBOARD_UPSTREAM_TIMEOUT has invalid duration %q: %w", v, err)
		}
		upstreamTimeout = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("PIPEBOARD_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "pipeboard.db"
	if v, ok := os.LookupEnv("PIPEBOARD_DB_PATH"); ok {
		dbPath = v
	}

	defaultTriggeredBy := "unknown"
	if v, ok := os.LookupEnv("PIPEBOARD_DEFAULT_TRIGGERED_BY"); ok && v != "" {
		defaultTriggeredBy = v
	}

	return &Config{
		JenkinsURL:         jenkinsURL,
		JenkinsUsername:    os.Getenv("PIPEBOARD_JENKINS_USERNAME"),
		JenkinsAPIToken:    os.Getenv("PIPEBOARD_JENKINS_API_TOKEN"),
		JenkinsPublicURL:   publicURL,
		SlackWebhookURL:    os.Getenv("PIPEBOARD_SLACK_WEBHOOK_URL"),
		PollInterval:       pollInterval,
		ListenAddr:         listenAddr,
		DBPath:             dbPath,
		DefaultTriggeredBy: defaultTriggeredBy,
		UpstreamTimeout:    upstreamTimeout,
	}, nil
}
