package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Ajax Sync Core.
// All configuration is loaded from YAML and secrets can be overridden by
// environment variables (AJAXSYNC_CLOUD_TOKEN, AJAXSYNC_QUEUE_URL,
// AJAXSYNC_MQTT_PASSWORD, AJAXSYNC_INFLUXDB_TOKEN).
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	Sync     SyncConfig     `yaml:"sync"`
	Queue    QueueConfig    `yaml:"queue"`
	Journal  JournalConfig  `yaml:"journal"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains Ajax cloud endpoints and credentials.
type CloudConfig struct {
	// BaseURL is the REST API root (e.g. "https://api.ajax.systems/api").
	BaseURL string `yaml:"base_url"`

	// StreamURL is the SSE push-stream endpoint.
	StreamURL string `yaml:"stream_url"`

	// Token is the API session token. Prefer the AJAXSYNC_CLOUD_TOKEN
	// environment variable over committing this to disk.
	Token string `yaml:"token"`

	// AccountID identifies the account whose device tree is mirrored.
	AccountID string `yaml:"account_id"`

	// RequestTimeout is the per-request timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// SyncConfig contains the reconciliation tunables.
// All intervals and windows are in seconds unless noted.
type SyncConfig struct {
	// LightPollInterval is the light-poll cadence while a hub is disarmed.
	LightPollInterval int `yaml:"light_poll_interval"`

	// ArmedPollInterval is the light-poll cadence while a hub is armed.
	// Push channels carry real-time changes, so polling relaxes.
	ArmedPollInterval int `yaml:"armed_poll_interval"`

	// FullRefreshInterval is the full metadata refresh cadence.
	FullRefreshInterval int `yaml:"full_refresh_interval"`

	// DedupWindow is the trailing window within which semantically
	// identical events are suppressed.
	DedupWindow int `yaml:"dedup_window"`

	// DebounceWindowMS is the trailing window used to coalesce bursts into
	// one downstream notification, in milliseconds.
	DebounceWindowMS int `yaml:"debounce_window_ms"`

	// ProtectionWindow shields a record freshly updated from stream/queue
	// against older poll writes.
	ProtectionWindow int `yaml:"protection_window"`

	// ProvisionalGraceCycles is how many full-metadata snapshots may omit a
	// provisionally created device before it is evicted.
	ProvisionalGraceCycles int `yaml:"provisional_grace_cycles"`

	// StaleDeadline is how long all transports may be down before the
	// snapshot is flagged stale.
	StaleDeadline int `yaml:"stale_deadline"`

	// RateLimit is the shared REST token-bucket quota.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Backoff governs transient-failure retry delays.
	Backoff BackoffConfig `yaml:"backoff"`
}

// RateLimitConfig describes the account-wide REST request quota.
type RateLimitConfig struct {
	Requests int `yaml:"requests"`
	Window   int `yaml:"window"`
}

// BackoffConfig describes capped exponential backoff, in seconds.
type BackoffConfig struct {
	Base int `yaml:"base"`
	Cap  int `yaml:"cap"`
}

// QueueConfig contains the cloud message-queue (NATS JetStream) settings.
type QueueConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Stream   string `yaml:"stream"`
	Consumer string `yaml:"consumer"`
	Subject  string `yaml:"subject"`

	// FetchBatch is the maximum messages pulled per fetch.
	FetchBatch int `yaml:"fetch_batch"`

	// FetchWait is the maximum seconds a fetch blocks on an empty queue.
	FetchWait int `yaml:"fetch_wait"`
}

// JournalConfig contains the SQLite event journal settings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig contains the downstream MQTT bus settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// InfluxDBConfig contains telemetry sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the read-only HTTP API settings.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig contains WebSocket hub settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration helpers. Config values are stored as plain integers for YAML
// readability; call sites use these to obtain time.Duration values.

// Timeout returns the per-request timeout.
func (c CloudConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// LightPoll returns the disarmed light-poll interval.
func (c SyncConfig) LightPoll() time.Duration {
	return time.Duration(c.LightPollInterval) * time.Second
}

// ArmedPoll returns the armed light-poll interval.
func (c SyncConfig) ArmedPoll() time.Duration {
	return time.Duration(c.ArmedPollInterval) * time.Second
}

// FullRefresh returns the metadata refresh interval.
func (c SyncConfig) FullRefresh() time.Duration {
	return time.Duration(c.FullRefreshInterval) * time.Second
}

// Dedup returns the deduplication window.
func (c SyncConfig) Dedup() time.Duration {
	return time.Duration(c.DedupWindow) * time.Second
}

// Debounce returns the debounce window.
func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceWindowMS) * time.Millisecond
}

// Protection returns the push-update protection window.
func (c SyncConfig) Protection() time.Duration {
	return time.Duration(c.ProtectionWindow) * time.Second
}

// Stale returns the all-sources-down staleness deadline.
func (c SyncConfig) Stale() time.Duration {
	return time.Duration(c.StaleDeadline) * time.Second
}

// BaseDelay returns the initial retry delay.
func (c BackoffConfig) BaseDelay() time.Duration {
	return time.Duration(c.Base) * time.Second
}

// CapDelay returns the maximum retry delay.
func (c BackoffConfig) CapDelay() time.Duration {
	return time.Duration(c.Cap) * time.Second
}

// WindowDuration returns the rate-limit replenishment window.
func (c RateLimitConfig) WindowDuration() time.Duration {
	return time.Duration(c.Window) * time.Second
}

// Load reads and parses the configuration file at the given path.
//
// After parsing it applies environment variable overrides for secrets,
// fills defaults for unset tunables, and validates the result.
//
// Returns:
//   - *Config: Parsed and validated configuration
//   - error: If the file is missing, malformed, or fails validation
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator flag/env
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides replaces secret values with environment variables when set.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AJAXSYNC_CLOUD_TOKEN"); v != "" {
		c.Cloud.Token = v
	}
	if v := os.Getenv("AJAXSYNC_QUEUE_URL"); v != "" {
		c.Queue.URL = v
	}
	if v := os.Getenv("AJAXSYNC_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("AJAXSYNC_INFLUXDB_TOKEN"); v != "" {
		c.InfluxDB.Token = v
	}
}

// Defaults for every tunable the engine consumes. Values mirror the cloud
// source's documented behaviour: polling is a safety net behind the push
// channels, so the armed cadence is deliberately slower.
const (
	defaultRequestTimeout         = 15
	defaultLightPollInterval      = 30
	defaultArmedPollInterval      = 60
	defaultFullRefreshInterval    = 3600
	defaultDedupWindow            = 5
	defaultDebounceWindowMS       = 1500
	defaultProtectionWindow       = 5
	defaultProvisionalGraceCycles = 2
	defaultStaleDeadline          = 300
	defaultRateLimitRequests      = 60
	defaultRateLimitWindow        = 60
	defaultBackoffBase            = 5
	defaultBackoffCap             = 30
	defaultQueueFetchBatch        = 10
	defaultQueueFetchWait         = 20
	defaultMQTTPort               = 1883
	defaultMQTTQoS                = 1
	defaultAPIPort                = 8094
	defaultWSMaxMessageSize       = 4096
	defaultWSPingInterval         = 30
	defaultWSPongTimeout          = 60
)

// applyDefaults fills zero-valued tunables with their defaults.
func (c *Config) applyDefaults() { //nolint:gocyclo // one branch per tunable
	if c.Cloud.RequestTimeout <= 0 {
		c.Cloud.RequestTimeout = defaultRequestTimeout
	}
	if c.Sync.LightPollInterval <= 0 {
		c.Sync.LightPollInterval = defaultLightPollInterval
	}
	if c.Sync.ArmedPollInterval <= 0 {
		c.Sync.ArmedPollInterval = defaultArmedPollInterval
	}
	if c.Sync.FullRefreshInterval <= 0 {
		c.Sync.FullRefreshInterval = defaultFullRefreshInterval
	}
	if c.Sync.DedupWindow <= 0 {
		c.Sync.DedupWindow = defaultDedupWindow
	}
	if c.Sync.DebounceWindowMS <= 0 {
		c.Sync.DebounceWindowMS = defaultDebounceWindowMS
	}
	if c.Sync.ProtectionWindow <= 0 {
		c.Sync.ProtectionWindow = defaultProtectionWindow
	}
	if c.Sync.ProvisionalGraceCycles <= 0 {
		c.Sync.ProvisionalGraceCycles = defaultProvisionalGraceCycles
	}
	if c.Sync.StaleDeadline <= 0 {
		c.Sync.StaleDeadline = defaultStaleDeadline
	}
	if c.Sync.RateLimit.Requests <= 0 {
		c.Sync.RateLimit.Requests = defaultRateLimitRequests
	}
	if c.Sync.RateLimit.Window <= 0 {
		c.Sync.RateLimit.Window = defaultRateLimitWindow
	}
	if c.Sync.Backoff.Base <= 0 {
		c.Sync.Backoff.Base = defaultBackoffBase
	}
	if c.Sync.Backoff.Cap <= 0 {
		c.Sync.Backoff.Cap = defaultBackoffCap
	}
	if c.Queue.FetchBatch <= 0 {
		c.Queue.FetchBatch = defaultQueueFetchBatch
	}
	if c.Queue.FetchWait <= 0 {
		c.Queue.FetchWait = defaultQueueFetchWait
	}
	if c.MQTT.Port <= 0 {
		c.MQTT.Port = defaultMQTTPort
	}
	if c.MQTT.QoS <= 0 {
		c.MQTT.QoS = defaultMQTTQoS
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ajaxsync-core"
	}
	if c.API.Port <= 0 {
		c.API.Port = defaultAPIPort
	}
	if c.API.WebSocket.MaxMessageSize <= 0 {
		c.API.WebSocket.MaxMessageSize = defaultWSMaxMessageSize
	}
	if c.API.WebSocket.PingInterval <= 0 {
		c.API.WebSocket.PingInterval = defaultWSPingInterval
	}
	if c.API.WebSocket.PongTimeout <= 0 {
		c.API.WebSocket.PongTimeout = defaultWSPongTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate checks the configuration for internal consistency.
//
// Returns:
//   - error: Describing the first problem found, or nil
func (c *Config) Validate() error {
	if c.Cloud.BaseURL == "" {
		return fmt.Errorf("cloud.base_url is required")
	}
	if !strings.HasPrefix(c.Cloud.BaseURL, "http://") && !strings.HasPrefix(c.Cloud.BaseURL, "https://") {
		return fmt.Errorf("cloud.base_url must be an http(s) URL, got %q", c.Cloud.BaseURL)
	}
	if c.Cloud.StreamURL == "" {
		return fmt.Errorf("cloud.stream_url is required")
	}
	if c.Cloud.Token == "" {
		return fmt.Errorf("cloud.token is required (set AJAXSYNC_CLOUD_TOKEN)")
	}
	if c.Cloud.AccountID == "" {
		return fmt.Errorf("cloud.account_id is required")
	}
	if c.Sync.ArmedPollInterval < c.Sync.LightPollInterval {
		return fmt.Errorf("sync.armed_poll_interval (%d) must not be shorter than sync.light_poll_interval (%d)",
			c.Sync.ArmedPollInterval, c.Sync.LightPollInterval)
	}
	if c.Sync.Backoff.Cap < c.Sync.Backoff.Base {
		return fmt.Errorf("sync.backoff.cap (%d) must not be smaller than sync.backoff.base (%d)",
			c.Sync.Backoff.Cap, c.Sync.Backoff.Base)
	}
	if c.Queue.Enabled {
		if c.Queue.URL == "" {
			return fmt.Errorf("queue.url is required when queue is enabled")
		}
		if c.Queue.Stream == "" || c.Queue.Consumer == "" {
			return fmt.Errorf("queue.stream and queue.consumer are required when queue is enabled")
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Token == "" {
			return fmt.Errorf("influxdb.url and influxdb.token are required when influxdb is enabled")
		}
	}
	return nil
}
