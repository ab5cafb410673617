package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the process configuration, read once from the environment.
type AppConfig struct {
	HTTPAddr string

	LichessBaseURL string
	Source         string // tv | broadcast | auto
	PollInterval   time.Duration
	GameLimit      int

	StaleAfter    time.Duration
	SweepInterval time.Duration

	CatalogPath string

	RedisURL    string
	DatabaseURL string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:       ":8000",
		LichessBaseURL: "https://lichess.org",
		Source:         "auto",
		PollInterval:   30 * time.Second,
		GameLimit:      10,
		StaleAfter:     120 * time.Second,
		SweepInterval:  15 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("OPENINGS_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("LICHESS_BASE_URL")); v != "" {
		cfg.LichessBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("OPENINGS_SOURCE")); v != "" {
		cfg.Source = strings.ToLower(v)
	}
	switch cfg.Source {
	case "tv", "broadcast", "auto":
	default:
		return nil, fmt.Errorf("OPENINGS_SOURCE must be tv, broadcast or auto (got %q)", cfg.Source)
	}

	if v := strings.TrimSpace(os.Getenv("OPENINGS_POLL_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("OPENINGS_POLL_INTERVAL: %q is not a positive duration", v)
		}
		cfg.PollInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("OPENINGS_GAME_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GameLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("OPENINGS_STALE_AFTER")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("OPENINGS_STALE_AFTER: %q is not a positive duration", v)
		}
		cfg.StaleAfter = d
	}
	if v := strings.TrimSpace(os.Getenv("OPENINGS_SWEEP_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("OPENINGS_SWEEP_INTERVAL: %q is not a positive duration", v)
		}
		cfg.SweepInterval = d
	}

	cfg.CatalogPath = strings.TrimSpace(os.Getenv("OPENINGS_CATALOG_PATH"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	return cfg, nil
}
