package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "ROOMLENS"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "roomlens.db"
	defaultLogLevel     = "info"

	defaultSyncIntervalSeconds        = 30
	defaultSyncBackoffBaseMillis      = 2000
	defaultSyncBackoffCapSeconds      = 300
	defaultSyncMaxRetries             = 8
	defaultSyncLivenessTimeoutSeconds = 600
)

// AppConfig captures runtime configuration for the sync service.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	RemoteBaseURL     string
	ClassifierBaseURL string
	LogLevel          string
	LogFile           string

	SyncInterval        time.Duration
	SyncBackoffBase     time.Duration
	SyncBackoffCap      time.Duration
	SyncMaxRetries      int
	SyncLivenessTimeout time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("remote.base_url", "")
	configViper.SetDefault("classifier.base_url", "")
	configViper.SetDefault("sync.interval_seconds", defaultSyncIntervalSeconds)
	configViper.SetDefault("sync.backoff_base_ms", defaultSyncBackoffBaseMillis)
	configViper.SetDefault("sync.backoff_cap_seconds", defaultSyncBackoffCapSeconds)
	configViper.SetDefault("sync.max_retries", defaultSyncMaxRetries)
	configViper.SetDefault("sync.liveness_timeout_seconds", defaultSyncLivenessTimeoutSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		RemoteBaseURL:     configViper.GetString("remote.base_url"),
		ClassifierBaseURL: configViper.GetString("classifier.base_url"),
		LogLevel:          configViper.GetString("log.level"),
		LogFile:           configViper.GetString("log.file"),

		SyncInterval:        time.Duration(configViper.GetInt("sync.interval_seconds")) * time.Second,
		SyncBackoffBase:     time.Duration(configViper.GetInt("sync.backoff_base_ms")) * time.Millisecond,
		SyncBackoffCap:      time.Duration(configViper.GetInt("sync.backoff_cap_seconds")) * time.Second,
		SyncMaxRetries:      configViper.GetInt("sync.max_retries"),
		SyncLivenessTimeout: time.Duration(configViper.GetInt("sync.liveness_timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if strings.TrimSpace(c.ClassifierBaseURL) == "" {
		return fmt.Errorf("classifier.base_url is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive")
	}
	if c.SyncBackoffBase <= 0 {
		return fmt.Errorf("sync.backoff_base_ms must be positive")
	}
	if c.SyncBackoffCap < c.SyncBackoffBase {
		return fmt.Errorf("sync.backoff_cap_seconds must be at least the backoff base")
	}
	if c.SyncMaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive")
	}
	if c.SyncLivenessTimeout <= 0 {
		return fmt.Errorf("sync.liveness_timeout_seconds must be positive")
	}
	return nil
}
