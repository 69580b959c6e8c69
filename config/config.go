// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Overlay
	CatalogFile     string
	ImageDuration   time.Duration
	ParrotBaseDelay time.Duration
	ParrotVariance  time.Duration
	ParrotAutoplay  bool

	// Twitch chat
	TwitchChannel     string
	TwitchBotUsername string
	TwitchOAuthToken  string
	CommandPrefix     string
	CommandCooldown   time.Duration
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when chat commands are wanted. Malformed durations are an error.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getenv("LOG_FORMAT", "text")),
		CatalogFile:       os.Getenv("CATALOG_FILE"),
		TwitchChannel:     strings.TrimPrefix(os.Getenv("TWITCH_CHANNEL"), "#"),
		TwitchBotUsername: os.Getenv("TWITCH_BOT_USERNAME"),
		TwitchOAuthToken:  os.Getenv("TWITCH_OAUTH_TOKEN"),
		CommandPrefix:     getenv("CHAT_COMMAND_PREFIX", "!"),
	}

	var err error
	if cfg.ImageDuration, err = duration("IMAGE_SHOW_DURATION", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ParrotBaseDelay, err = duration("PARROT_BASE_DELAY", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ParrotVariance, err = duration("PARROT_DELAY_VARIANCE", 0); err != nil {
		return nil, err
	}
	if cfg.CommandCooldown, err = duration("CHAT_COMMAND_COOLDOWN", 0); err != nil {
		return nil, err
	}
	if v := os.Getenv("PARROT_AUTOPLAY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PARROT_AUTOPLAY: %w", err)
		}
		cfg.ParrotAutoplay = b
	}

	return cfg, nil
}

// ValidateChatReady checks required fields when chat commands are enabled.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// duration parses key as a Go duration ("90s", "5m"). A bare number is seconds.
func duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		v = strconv.FormatFloat(secs, 'f', -1, 64) + "s"
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration %s", key, d)
	}
	return d, nil
}
