// Package config loads the daemon's configuration through a layered
// koanf.Koanf stack: struct defaults, an optional YAML file, then
// environment variables (`JUKEBOX_*`), in that precedence order. It is
// grounded on the teacher's own internal/config/koanf.go — same
// defaultConfig()+structs.Provider()+file.Provider()+env.Provider() layering
// and findConfigFile() search-path idiom, narrowed from the teacher's
// 40-odd subsystem config blocks to the handful this daemon's components
// (spec §4, §5) actually read.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched, in order, for an optional
// YAML config file.
var DefaultConfigPaths = []string{
	"jukebox.yaml",
	"jukebox.yml",
	"/etc/jukebox/jukebox.yaml",
	"/etc/jukebox/jukebox.yml",
}

// ConfigPathEnvVar overrides the search list with one explicit path.
const ConfigPathEnvVar = "JUKEBOX_CONFIG_PATH"

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// StorageConfig controls where uploaded/finalized audio lives on disk.
type StorageConfig struct {
	UploadRoot     string `koanf:"upload_root"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
	BadgerDir      string `koanf:"badger_dir"`
	DurableOutbox  bool   `koanf:"durable_outbox"`
}

// OutboxConfig controls Event Outbox retention (spec §4.2).
type OutboxConfig struct {
	GlobalCapacity int `koanf:"global_capacity"`
	PerPlaylistCap int `koanf:"per_playlist_capacity"`
}

// UploadConfig controls Upload Engine session lifecycle (spec §4.7, §5).
type UploadConfig struct {
	DefaultChunkSize int64         `koanf:"default_chunk_size"`
	SessionTTL       time.Duration `koanf:"session_ttl"`
	PurgeInterval    time.Duration `koanf:"purge_interval"`
}

// NFCConfig controls the NFC State Machine and hardware adapter (spec §4.8).
type NFCConfig struct {
	DebounceMs         int           `koanf:"debounce_ms"`
	DefaultTimeoutMs   int           `koanf:"default_timeout_ms"`
	MaxTimeoutMs       int           `koanf:"max_timeout_ms"`
	HardwareWatchDir   string        `koanf:"hardware_watch_dir"`
}

// OperationConfig controls Operation Tracker TTLs (spec §4.5, §5).
type OperationConfig struct {
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	AckTimeout     time.Duration `koanf:"ack_timeout"`
}

// PlaybackConfig controls the Playback Coordinator's audio-backend calls
// (spec §5).
type PlaybackConfig struct {
	BackendCallTimeout time.Duration `koanf:"backend_call_timeout"`
}

// LoggingConfig mirrors the teacher's LoggingConfig exactly (level/format/caller).
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// RateLimitConfig controls go-chi/httprate on mutation-heavy routes.
type RateLimitConfig struct {
	UploadsPerMinute int `koanf:"uploads_per_minute"`
	NfcPerMinute     int `koanf:"nfc_per_minute"`
}

// Config is the top-level daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Outbox    OutboxConfig    `koanf:"outbox"`
	Upload    UploadConfig    `koanf:"upload"`
	NFC       NFCConfig       `koanf:"nfc"`
	Operation OperationConfig `koanf:"operation"`
	Playback  PlaybackConfig  `koanf:"playback"`
	Logging   LoggingConfig   `koanf:"logging"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// defaultConfig returns every default value named or implied by the
// specification (§4.1-§4.11, §5).
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Storage: StorageConfig{
			UploadRoot:     "/data/jukebox/library",
			MaxUploadBytes: 512 << 20, // 512 MiB
			BadgerDir:      "/data/jukebox/badger",
			DurableOutbox:  false,
		},
		Outbox: OutboxConfig{
			GlobalCapacity: 1024,
			PerPlaylistCap: 256,
		},
		Upload: UploadConfig{
			DefaultChunkSize: 1 << 20, // 1 MiB, spec §4.7
			SessionTTL:       30 * time.Minute,
			PurgeInterval:    5 * time.Minute, // spec §4.7
		},
		NFC: NFCConfig{
			DebounceMs:       500, // spec §4.8
			DefaultTimeoutMs: 60_000,
			MaxTimeoutMs:     300_000, // spec §5 cap
			HardwareWatchDir: "/data/jukebox/nfc-sim",
		},
		Operation: OperationConfig{
			IdempotencyTTL: 2 * time.Minute, // spec §4.5
			AckTimeout:     30 * time.Second, // spec §5
		},
		Playback: PlaybackConfig{
			BackendCallTimeout: 2 * time.Second, // spec §5
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		RateLimit: RateLimitConfig{
			UploadsPerMinute: 120,
			NfcPerMinute:     30,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// environment variables, in that precedence order, exactly matching the
// teacher's LoadWithKoanf three-layer shape.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("JUKEBOX_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the daemon assumes hold.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be positive")
	}
	if c.NFC.DefaultTimeoutMs > c.NFC.MaxTimeoutMs {
		return fmt.Errorf("nfc.default_timeout_ms cannot exceed nfc.max_timeout_ms")
	}
	return nil
}

// findConfigFile searches JUKEBOX_CONFIG_PATH then DefaultConfigPaths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps JUKEBOX_SERVER_PORT -> server.port, matching the
// teacher's lower-case-and-dot-join env-to-koanf-path transform.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, "JUKEBOX_")
	return strings.ReplaceAll(strings.ToLower(key), "_", ".")
}
