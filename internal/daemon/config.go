package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/internal/monitor"
	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
)

const (
	defaultDatabaseURL    = "sqlite:///tmp/laundromat.db"
	defaultGRPCListenAddr = ":7000"
	defaultHTTPListenAddr = ":9090"
	defaultAllowedOrigin  = "http://localhost:8000"
	defaultRequestTimeout = 3 * time.Second
)

// Config aggregates runtime settings for laundryd.
type Config struct {
	DatabaseURL    string
	GRPCListenAddr string
	HTTPListenAddr string
	AllowedOrigins []string
	RequestTimeout time.Duration
	TickInterval   time.Duration

	// SeedFile overrides the embedded catalog seed; SkipSeed disables seeding.
	SeedFile string
	SkipSeed bool

	NotifyBeforeCompletion int
	NotifyEnabled          bool

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannelPrefix string
	AMQPURL            string
	AMQPQueue          string
	KafkaBrokers       []string
	KafkaTopic         string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	settings := laundry.DefaultNotificationSettings()
	return Config{
		DatabaseURL:            defaultDatabaseURL,
		GRPCListenAddr:         defaultGRPCListenAddr,
		HTTPListenAddr:         defaultHTTPListenAddr,
		AllowedOrigins:         []string{defaultAllowedOrigin},
		RequestTimeout:         defaultRequestTimeout,
		TickInterval:           monitor.DefaultInterval,
		NotifyBeforeCompletion: settings.BeforeCompletion,
		NotifyEnabled:          settings.Enabled,
	}
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = monitor.DefaultInterval
	}
	if cfg.TickInterval < time.Second {
		return fmt.Errorf("tick interval must be at least 1s, got %s", cfg.TickInterval)
	}
	if cfg.GRPCListenAddr == cfg.HTTPListenAddr {
		return fmt.Errorf("grpc and http listen addresses must differ")
	}
	if _, err := laundry.NewNotificationSettings(cfg.NotifyBeforeCompletion, cfg.NotifyEnabled); err != nil {
		return err
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseList splits a comma-delimited value into trimmed, non-empty items.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
