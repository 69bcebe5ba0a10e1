// Package config reads server settings from DEPGRAPH_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

type Config struct {
	DatabaseURL string // DEPGRAPH_DATABASE_URL (optional, empty = in-memory store)
	GRPCAddr    string // DEPGRAPH_GRPC_ADDR (default ":9090")
	HTTPAddr    string // DEPGRAPH_HTTP_ADDR (default ":8080")
	NATSURL     string // DEPGRAPH_NATS_URL (optional, empty = no events, no discovery intake)
	AuthToken   string // DEPGRAPH_AUTH_TOKEN (optional, empty = auth disabled)

	LogLevel         slog.Level // DEPGRAPH_LOG_LEVEL (default "info")
	DiscoverySubject string     // DEPGRAPH_DISCOVERY_SUBJECT (default "depgraph.discovery.>")

	// Sync settings
	SyncInterval   time.Duration // DEPGRAPH_SYNC_INTERVAL (default 5m; 0 = disabled)
	SyncS3Bucket   string        // DEPGRAPH_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // DEPGRAPH_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // DEPGRAPH_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // DEPGRAPH_SYNC_S3_KEY (default "depgraph/export.jsonl")
	SyncGitRepo    string        // DEPGRAPH_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // DEPGRAPH_SYNC_GIT_FILE (default "depgraph.jsonl")
	SyncGitBranch  string        // DEPGRAPH_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:      os.Getenv("DEPGRAPH_DATABASE_URL"),
		GRPCAddr:         envOrDefault("DEPGRAPH_GRPC_ADDR", ":9090"),
		HTTPAddr:         envOrDefault("DEPGRAPH_HTTP_ADDR", ":8080"),
		NATSURL:          os.Getenv("DEPGRAPH_NATS_URL"),
		AuthToken:        os.Getenv("DEPGRAPH_AUTH_TOKEN"),
		DiscoverySubject: envOrDefault("DEPGRAPH_DISCOVERY_SUBJECT", "depgraph.discovery.>"),
		SyncS3Bucket:     os.Getenv("DEPGRAPH_SYNC_S3_BUCKET"),
		SyncS3Endpoint:   os.Getenv("DEPGRAPH_SYNC_S3_ENDPOINT"),
		SyncS3Region:     envOrDefault("DEPGRAPH_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:        envOrDefault("DEPGRAPH_SYNC_S3_KEY", "depgraph/export.jsonl"),
		SyncGitRepo:      os.Getenv("DEPGRAPH_SYNC_GIT_REPO"),
		SyncGitFile:      envOrDefault("DEPGRAPH_SYNC_GIT_FILE", "depgraph.jsonl"),
		SyncGitBranch:    envOrDefault("DEPGRAPH_SYNC_GIT_BRANCH", "main"),
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("DEPGRAPH_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("DEPGRAPH_LOG_LEVEL: %w", err)
	}

	d, err := time.ParseDuration(envOrDefault("DEPGRAPH_SYNC_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("DEPGRAPH_SYNC_INTERVAL: %w", err)
	}
	if d < 0 {
		return nil, fmt.Errorf("DEPGRAPH_SYNC_INTERVAL: must not be negative, got %s", d)
	}
	c.SyncInterval = d

	return c, nil
}

// SyncEnabled reports whether an export destination is configured and the
// scheduler should run.
func (c *Config) SyncEnabled() bool {
	return c.SyncInterval > 0 && (c.SyncS3Bucket != "" || c.SyncGitRepo != "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
