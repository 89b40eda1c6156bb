package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides (e.g. OUTPOST_SYNC_INTERVAL).
const EnvPrefix = "OUTPOST"

// Duration is a time.Duration that reads as "5s" from JSON and env.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string ("15s") or integer milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.Decode(s)
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must be non-negative: %q", value)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds application configuration.
type Config struct {
	// SyncInterval is how often the sync worker drains the outbox without a trigger.
	SyncInterval Duration `json:"sync_interval,omitempty" split_words:"true"`

	// SyncBatchSize caps the number of items pushed per drain cycle.
	SyncBatchSize int `json:"sync_batch_size,omitempty" split_words:"true"`

	// SyncMaxRetries is the number of failed pushes after which an item is
	// marked failed and waits for a user retry.
	SyncMaxRetries int `json:"sync_max_retries,omitempty" split_words:"true"`

	// SyncBaseBackoff and SyncMaxBackoff bound the exponential retry delay.
	SyncBaseBackoff Duration `json:"sync_base_backoff,omitempty" split_words:"true"`
	SyncMaxBackoff  Duration `json:"sync_max_backoff,omitempty" split_words:"true"`

	// PollIntervals are the confirmation burst offsets measured from startPolling.
	PollIntervals []Duration `json:"poll_intervals,omitempty" split_words:"true"`

	// RemoteURL is the base URL of the remote API. Empty disables syncing.
	RemoteURL     string   `json:"remote_url,omitempty" split_words:"true"`
	RemoteToken   string   `json:"remote_token,omitempty" split_words:"true"`
	RemoteTimeout Duration `json:"remote_timeout,omitempty" split_words:"true"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty" split_words:"true"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" envconfig:"DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" envconfig:"DB_MAX_IDLE_CONNS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty" split_words:"true"`

	// DisabledTypes is a list of tool groups to disable entirely.
	// Known types: "timeline", "profile", "poll".
	DisabledTypes []string `json:"disabled_types,omitempty" split_words:"true"`

	// ProfileID, EntityID and ProfileType name the profile that is active
	// at startup. Without ProfileID every write is refused until a switch.
	ProfileID   string `json:"profile_id,omitempty" split_words:"true"`
	EntityID    string `json:"entity_id,omitempty" split_words:"true"`
	ProfileType string `json:"profile_type,omitempty" split_words:"true"`

	// WebBind and WebPort configure the outbox inspector.
	WebBind string `json:"web_bind,omitempty" split_words:"true"`
	WebPort int    `json:"web_port,omitempty" split_words:"true"`
}

// DefaultPollIntervals is the confirmation burst schedule.
var DefaultPollIntervals = []Duration{
	Duration(5 * time.Second),
	Duration(15 * time.Second),
	Duration(30 * time.Second),
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    Duration(5 * time.Second),
		SyncBatchSize:   25,
		SyncMaxRetries:  5,
		SyncBaseBackoff: Duration(2 * time.Second),
		SyncMaxBackoff:  Duration(5 * time.Minute),
		PollIntervals:   append([]Duration(nil), DefaultPollIntervals...),
		RemoteTimeout:   Duration(15 * time.Second),
		LogLevel:        "info",
		WebBind:         "127.0.0.1",
		WebPort:         8127,
	}
}

// PollSchedule returns PollIntervals as plain durations.
func (c *Config) PollSchedule() []time.Duration {
	out := make([]time.Duration, len(c.PollIntervals))
	for i, d := range c.PollIntervals {
		out[i] = d.D()
	}
	return out
}

// Load loads configuration from baseDir/config.json, then applies
// OUTPOST_* environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.outpost.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return applyEnv(cfg)
}

// LoadWithRepo loads configuration from both global (~/.outpost) and repo (.outpost) directories.
// Repo config is found by walking upward from startDir to find the nearest .outpost/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Environment overrides are applied last.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return applyEnv(Merge(Merge(DefaultConfig(), global), repo))
}

// FindRepoConfig walks upward from startDir to find the nearest .outpost/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".outpost", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyEnv overlays OUTPOST_* variables onto cfg.
func applyEnv(cfg *Config) (*Config, error) {
	env := &Config{}
	if err := envconfig.Process(EnvPrefix, env); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	return Merge(cfg, env), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; string arrays are merged and
// deduplicated. PollIntervals is replaced wholesale since it is a schedule.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.SyncInterval = pickDuration(overlay.SyncInterval, base.SyncInterval)
	result.SyncBaseBackoff = pickDuration(overlay.SyncBaseBackoff, base.SyncBaseBackoff)
	result.SyncMaxBackoff = pickDuration(overlay.SyncMaxBackoff, base.SyncMaxBackoff)
	result.RemoteTimeout = pickDuration(overlay.RemoteTimeout, base.RemoteTimeout)

	result.SyncBatchSize = pickInt(overlay.SyncBatchSize, base.SyncBatchSize)
	result.SyncMaxRetries = pickInt(overlay.SyncMaxRetries, base.SyncMaxRetries)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.WebPort = pickInt(overlay.WebPort, base.WebPort)

	result.RemoteURL = pickString(overlay.RemoteURL, base.RemoteURL)
	result.RemoteToken = pickString(overlay.RemoteToken, base.RemoteToken)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.WebBind = pickString(overlay.WebBind, base.WebBind)
	result.ProfileID = pickString(overlay.ProfileID, base.ProfileID)
	result.EntityID = pickString(overlay.EntityID, base.EntityID)
	result.ProfileType = pickString(overlay.ProfileType, base.ProfileType)

	result.PollIntervals = base.PollIntervals
	if len(overlay.PollIntervals) > 0 {
		result.PollIntervals = overlay.PollIntervals
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickDuration(overlay, base Duration) Duration {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if s := strings.TrimSpace(overlay); s != "" {
		return s
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
