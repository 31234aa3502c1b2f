package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad env",
			mutate:  func(c *Config) { c.App.Environment = "staging" },
			wantErr: "APP_ENV",
		},
		{
			name:    "privileged port",
			mutate:  func(c *Config) { c.HTTP.Port = 80 },
			wantErr: "HTTP_PORT",
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "ftp" },
			wantErr: "STORAGE_DRIVER",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Storage.Driver = "s3"; c.Storage.S3.Endpoint = "http://localhost:3900" },
			wantErr: "S3_BUCKET",
		},
		{
			name:    "unbounded fetch",
			mutate:  func(c *Config) { c.Ingest.FetchTimeout = 0 },
			wantErr: "INGEST_FETCH_TIMEOUT",
		},
		{
			name:    "journal without rollback",
			mutate:  func(c *Config) { c.DB.JournalMode = "off" },
			wantErr: "DB_JOURNAL_MODE",
		},
		{
			name:    "write allowance without burst",
			mutate:  func(c *Config) { c.Limiter.Write.Burst = 0 },
			wantErr: "LIMITER_WRITE_BURST",
		},
		{
			name:    "image allowance without rate",
			mutate:  func(c *Config) { c.Limiter.Images.RPS = -1 },
			wantErr: "LIMITER_IMAGES_RPS",
		},
		{
			name:    "namespace not a uuid",
			mutate:  func(c *Config) { c.App.AssetNamespace = "nope" },
			wantErr: "ASSET_NAMESPACE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithDefaultsReadsEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "8081")
	t.Setenv("INGEST_FETCH_TIMEOUT", "3s")
	t.Setenv("LOGGER_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://admin.example.org, https://preview.example.org")
	t.Setenv("LIMITER_RPS", "not-a-number")
	t.Setenv("LIMITER_WRITE_RPS", "1")
	t.Setenv("LIMITER_IMAGES_BURST", "400")
	t.Setenv("DB_JOURNAL_MODE", "DELETE")
	t.Setenv("DB_BUSY_TIMEOUT", "250ms")

	cfg := LoadWithDefaults()

	if cfg.HTTP.Port != 8081 {
		t.Errorf("port: got %d, want 8081", cfg.HTTP.Port)
	}
	if cfg.Ingest.FetchTimeout != 3*time.Second {
		t.Errorf("fetch timeout: got %s, want 3s", cfg.Ingest.FetchTimeout)
	}
	if cfg.Logger.Level != slog.LevelDebug {
		t.Errorf("log level: got %s, want debug", cfg.Logger.Level)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://preview.example.org" {
		t.Errorf("cors origins: got %v", cfg.CORS.AllowedOrigins)
	}
	// invalid values fall back to defaults
	if cfg.Limiter.Read.RPS != DefaultConfig().Limiter.Read.RPS {
		t.Errorf("rps: got %d, want default", cfg.Limiter.Read.RPS)
	}
	if cfg.Limiter.Write.RPS != 1 || cfg.Limiter.Images.Burst != 400 {
		t.Errorf("class allowances: got write %+v images %+v", cfg.Limiter.Write, cfg.Limiter.Images)
	}
	if cfg.DB.JournalMode != "delete" || cfg.DB.BusyTimeout != 250*time.Millisecond {
		t.Errorf("db pragmas: got %q %s", cfg.DB.JournalMode, cfg.DB.BusyTimeout)
	}
}
