// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken string
	DatabaseURL string
	CacheURL    string // optional; empty means L1-only cache (§4.2)
	MetricsAddr string

	MaxConcurrentRepositories int
	MaxPRsPerRepository       int
	CacheTTL                  time.Duration
	UseETagCaching            bool
	BatchSize                 int
	DiscoveryTimeout          time.Duration
	PriorityScheduling        bool
	Interval                  time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Required variables: PRMON_GITHUB_TOKEN, PRMON_DATABASE_URL.
// Optional variables: PRMON_CACHE_URL (L1-only cache when absent).
// Optional variables with defaults, matching §6: PRMON_MAX_CONCURRENT_REPOSITORIES (10),
// PRMON_MAX_PRS_PER_REPOSITORY (1000), PRMON_CACHE_TTL_SECONDS (300),
// PRMON_USE_ETAG_CACHING (true), PRMON_BATCH_SIZE (100),
// PRMON_DISCOVERY_TIMEOUT_SECONDS (300), PRMON_PRIORITY_SCHEDULING (true),
// PRMON_INTERVAL_SECONDS (300), PRMON_METRICS_ADDR (127.0.0.1:9090).
func Load() (*Config, error) {
	var cfg Config

	token, ok := os.LookupEnv("PRMON_GITHUB_TOKEN")
	if !ok || token == "" {
		return nil, fmt.Errorf("PRMON_GITHUB_TOKEN is required but not set")
	}
	cfg.GitHubToken = token

	dbURL, ok := os.LookupEnv("PRMON_DATABASE_URL")
	if !ok || dbURL == "" {
		return nil, fmt.Errorf("PRMON_DATABASE_URL is required but not set")
	}
	cfg.DatabaseURL = dbURL

	// PRMON_CACHE_URL is optional — the cache runs L1-only without it (§4.2).
	if v, ok := os.LookupEnv("PRMON_CACHE_URL"); ok && v != "" {
		cfg.CacheURL = v
	} else {
		slog.Warn("PRMON_CACHE_URL not set — running with L1-only cache")
	}

	cfg.MetricsAddr = "127.0.0.1:9090"
	if v, ok := os.LookupEnv("PRMON_METRICS_ADDR"); ok && v != "" {
		cfg.MetricsAddr = v
	}

	var err error
	if cfg.MaxConcurrentRepositories, err = intEnv("PRMON_MAX_CONCURRENT_REPOSITORIES", 10); err != nil {
		return nil, err
	}
	if cfg.MaxPRsPerRepository, err = intEnv("PRMON_MAX_PRS_PER_REPOSITORY", 1000); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv("PRMON_BATCH_SIZE", 100); err != nil {
		return nil, err
	}

	cacheTTLSeconds, err := intEnv("PRMON_CACHE_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(cacheTTLSeconds) * time.Second

	discoveryTimeoutSeconds, err := intEnv("PRMON_DISCOVERY_TIMEOUT_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.DiscoveryTimeout = time.Duration(discoveryTimeoutSeconds) * time.Second

	intervalSeconds, err := intEnv("PRMON_INTERVAL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.Interval = time.Duration(intervalSeconds) * time.Second

	if cfg.UseETagCaching, err = boolEnv("PRMON_USE_ETAG_CACHING", true); err != nil {
		return nil, err
	}
	if cfg.PriorityScheduling, err = boolEnv("PRMON_PRIORITY_SCHEDULING", true); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}
