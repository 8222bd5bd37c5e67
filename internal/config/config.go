package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "HUDDLE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "huddle.db"
	defaultLogLevel          = "info"
	defaultAttachmentsDir    = "attachments"
	defaultPublicBaseURL     = "http://localhost:8080"
	defaultPresenceHeartbeat = 10 * time.Second
	defaultTypingQuietPeriod = 2 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	SigningSecret     string
	DatabasePath      string
	AttachmentsDir    string
	PublicBaseURL     string
	LogLevel          string
	PresenceHeartbeat time.Duration
	TypingQuietPeriod time.Duration
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
	configViper.SetDefault("http.public_base_url", defaultPublicBaseURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("attachments.dir", defaultAttachmentsDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("presence.heartbeat", defaultPresenceHeartbeat)
	configViper.SetDefault("typing.quiet_period", defaultTypingQuietPeriod)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		DatabasePath:      configViper.GetString("database.path"),
		AttachmentsDir:    configViper.GetString("attachments.dir"),
		PublicBaseURL:     configViper.GetString("http.public_base_url"),
		LogLevel:          configViper.GetString("log.level"),
		PresenceHeartbeat: configViper.GetDuration("presence.heartbeat"),
		TypingQuietPeriod: configViper.GetDuration("typing.quiet_period"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PresenceHeartbeat <= 0 {
		return fmt.Errorf("presence.heartbeat must be positive")
	}
	if c.TypingQuietPeriod <= 0 {
		return fmt.Errorf("typing.quiet_period must be positive")
	}
	return nil
}
