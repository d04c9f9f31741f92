// Package config loads the gateway's Config from YAML, a .env file, and
// environment variable overrides, mirroring the teacher's layered config
// loading approach.
package config

import (
	"time"

	"asrgateway/internal/platform/logging"
)

// Config is the root configuration for the gateway process.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Transport   TransportConfig   `yaml:"transport"`
	TicketStore TicketStoreConfig `yaml:"ticket_store"`
	ASR         ASRConfig         `yaml:"asr"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Log         logging.Config    `yaml:"log"`
}

// ServerConfig configures the HTTP ticket issuer and admin surface.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	ClerkJWTKey       string   `yaml:"clerk_jwt_key"`
	AuthorizedParties []string `yaml:"authorized_parties"`
	AdminToken        string   `yaml:"admin_token"`
}

// TransportConfig configures the WebSocket transport server.
type TransportConfig struct {
	Addr             string        `yaml:"addr"`
	Path             string        `yaml:"path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	// IdleTimeout closes a session whose connection has been silent this
	// long. Zero disables the idle reaper.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// TicketStoreConfig selects and configures the Ticket Store backend.
type TicketStoreConfig struct {
	Driver     string       `yaml:"driver"`
	TTLSeconds int          `yaml:"ttl_seconds"`
	Redis      RedisConfig  `yaml:"redis"`
	SQLite     SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig configures the Redis-backed Ticket Store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLiteConfig configures the SQLite-backed Ticket Store.
type SQLiteConfig struct {
	DSN string `yaml:"dsn"`
}

// ASRConfig selects the ASR provider and its credentials.
type ASRConfig struct {
	UseFireworks    bool   `yaml:"use_fireworks"`
	GroqAPIKey      string `yaml:"groq_api_key"`
	FireworksAPIKey string `yaml:"fireworks_api_key"`
	DebugMode       bool   `yaml:"debug_mode"`
}

// ArchiveConfig configures the per-session sliding-window archiver and its
// object store backend.
type ArchiveConfig struct {
	WindowSizeMs       int64             `yaml:"window_size_ms"`
	UploadIntervalMs   int64             `yaml:"upload_interval_ms"`
	MaxMemoryMB        float64           `yaml:"max_memory_mb"`
	StoreOriginalAudio bool              `yaml:"store_original_audio"`
	StoreVadSegments   bool              `yaml:"store_vad_segments"`
	ObjectStore        ObjectStoreConfig `yaml:"object_store"`
}

// ObjectStoreConfig configures the S3-compatible Object Store Client.
type ObjectStoreConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}
