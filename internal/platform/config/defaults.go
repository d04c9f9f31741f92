package config

import (
	"time"

	"asrgateway/internal/platform/logging"
)

// Defaults seeds a Config with values the gateway can boot with in
// development, without a config file or environment variables present.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Transport: TransportConfig{
			Addr:             ":8081",
			Path:             "/api/ws",
			HandshakeTimeout: 10 * time.Second,
			IdleTimeout:      10 * time.Minute,
		},
		TicketStore: TicketStoreConfig{
			Driver:     "memory",
			TTLSeconds: 300,
		},
		ASR: ASRConfig{
			UseFireworks: false,
		},
		Archive: ArchiveConfig{
			WindowSizeMs:       120000,
			UploadIntervalMs:   60000,
			MaxMemoryMB:        10,
			StoreOriginalAudio: true,
			StoreVadSegments:   false,
		},
		Log: logging.Config{
			Level: "info",
			Dir:   "logs",
			File:  "gateway.log",
		},
	}
}
