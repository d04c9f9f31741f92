package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader loads Config from an optional YAML file, an optional .env file,
// and environment variable overrides, in that layering order.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader reading "config.yaml" in the working directory
// by default, preceded by a .env load.
func NewLoader() *Loader {
	return &Loader{useDotEnv: true, path: "config.yaml"}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the YAML config file path.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Result captures the loaded configuration and the YAML path it was read
// from, if any.
type Result struct {
	Config *Config
	Path   string
}

// Load builds a Config starting from Defaults(), overlaying a YAML file if
// present, then applying environment variable overrides.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
		}
	}

	cfg := Defaults()
	path := ""
	if data, err := os.ReadFile(l.path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.path, err)
		}
		path = l.path
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", l.path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.ASR.GroqAPIKey = v
	}
	if v := os.Getenv("FIREWORKS_API_KEY"); v != "" {
		cfg.ASR.FireworksAPIKey = v
	}
	if v := os.Getenv("CLERK_JWT_KEY"); v != "" {
		cfg.Server.ClerkJWTKey = v
	}
	if v := os.Getenv("CLERK_AUTHORIZED_PARTIES"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.Server.AuthorizedParties = parts
	}
	if v, ok := parseBoolEnv("USE_FIREWORKS"); ok {
		cfg.ASR.UseFireworks = v
	}
	if v, ok := parseBoolEnv("DEBUG_MODE"); ok {
		cfg.ASR.DebugMode = v
	}
	if v := os.Getenv("OBJECT_STORE_BUCKET"); v != "" {
		cfg.Archive.ObjectStore.Bucket = v
	}
	if v := os.Getenv("OBJECT_STORE_ENDPOINT"); v != "" {
		cfg.Archive.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("OBJECT_STORE_ACCESS_KEY"); v != "" {
		cfg.Archive.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("OBJECT_STORE_SECRET_KEY"); v != "" {
		cfg.Archive.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("OBJECT_STORE_REGION"); v != "" {
		cfg.Archive.ObjectStore.Region = v
	}
	if v := os.Getenv("TICKET_STORE_BINDING"); v != "" {
		cfg.TicketStore.Driver = v
	}
	if v := os.Getenv("TICKET_STORE_REDIS_ADDR"); v != "" {
		cfg.TicketStore.Redis.Addr = v
	}
	if v := os.Getenv("TICKET_STORE_SQLITE_DSN"); v != "" {
		cfg.TicketStore.SQLite.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("TRANSPORT_ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.Transport.AllowedOrigins = parts
	}
}

func parseBoolEnv(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func validate(cfg *Config) error {
	switch cfg.TicketStore.Driver {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("ticket_store.driver: unsupported driver %q", cfg.TicketStore.Driver)
	}
	if cfg.TicketStore.Driver == "redis" && cfg.TicketStore.Redis.Addr == "" {
		return fmt.Errorf("ticket_store.redis.addr is required when driver is redis")
	}
	if cfg.TicketStore.Driver == "sqlite" && cfg.TicketStore.SQLite.DSN == "" {
		return fmt.Errorf("ticket_store.sqlite.dsn is required when driver is sqlite")
	}
	if cfg.TicketStore.TTLSeconds <= 0 {
		return fmt.Errorf("ticket_store.ttl_seconds must be positive")
	}
	return nil
}
