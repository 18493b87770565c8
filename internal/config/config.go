// Package config loads the bot configuration from YAML with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigSize caps the config file size before parsing.
const maxConfigSize = 1 << 20

// Config is the process configuration.
type Config struct {
	// HTTPPort is the health/metrics listen port.
	HTTPPort int `yaml:"http_port"`

	Telegram TelegramConfig `yaml:"telegram"`
	Google   GoogleConfig   `yaml:"google"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
}

// TelegramConfig holds transport settings.
type TelegramConfig struct {
	// Token is the bot token. Overridden by BOT_TOKEN.
	Token string `yaml:"token"`
	// PollTimeoutSeconds is the long-poll timeout.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`
	// SendRate limits outbound messages per second.
	SendRate float64 `yaml:"send_rate"`
	// SendBurst is the outbound limiter burst size.
	SendBurst int `yaml:"send_burst"`
	// MaxDownloadMB caps a single photo/document download.
	MaxDownloadMB int64 `yaml:"max_download_mb"`
}

// GoogleConfig holds record sink settings.
type GoogleConfig struct {
	// ServiceAccountFile is the credentials JSON path. Overridden by
	// GOOGLE_SERVICE_ACCOUNT_FILE.
	ServiceAccountFile string `yaml:"service_account_file"`
	// RootFolderID is the Drive folder holding all chat folders.
	// Overridden by GOOGLE_DRIVE_ROOT_FOLDER_ID.
	RootFolderID string `yaml:"root_folder_id"`
	// CacheFlushSchedule is a cron spec for flushing the remote-handle
	// caches (e.g. "0 4 * * *").
	CacheFlushSchedule string `yaml:"cache_flush_schedule"`
}

// TimeoutConfig holds the two session deadline windows as duration
// strings (e.g. "30s", "10m").
type TimeoutConfig struct {
	// FollowUp is the window for the text after an attendance photo.
	FollowUp string `yaml:"follow_up"`
	// Attachments is the indicator file-collection window, also used
	// as the idle guard for sessions awaiting their primary input.
	Attachments string `yaml:"attachments"`
}

// FollowUpWindow returns the parsed follow-up window.
func (t TimeoutConfig) FollowUpWindow() time.Duration {
	d, err := time.ParseDuration(t.FollowUp)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// AttachmentsWindow returns the parsed attachments window.
func (t TimeoutConfig) AttachmentsWindow() time.Duration {
	d, err := time.ParseDuration(t.Attachments)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// DefaultConfig returns the defaults applied before file and env.
func DefaultConfig() Config {
	return Config{
		HTTPPort: 8080,
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 60,
			SendRate:           25,
			SendBurst:          5,
			MaxDownloadMB:      20,
		},
		Google: GoogleConfig{
			CacheFlushSchedule: "0 4 * * *",
		},
		Timeouts: TimeoutConfig{
			FollowUp:    "30s",
			Attachments: "10m",
		},
	}
}

// Load reads the config file at path (skipped when path is empty),
// applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return cfg, fmt.Errorf("stat config: %w", err)
		}
		if info.Size() > maxConfigSize {
			return cfg, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"); v != "" {
		cfg.Google.ServiceAccountFile = v
	}
	if v := os.Getenv("GOOGLE_DRIVE_ROOT_FOLDER_ID"); v != "" {
		cfg.Google.RootFolderID = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = port
		}
	}
}

// Validate checks the loaded configuration.
func (c Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram token is required (set telegram.token or BOT_TOKEN)")
	}
	if c.Telegram.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("telegram poll timeout must be positive, got %d", c.Telegram.PollTimeoutSeconds)
	}
	if c.Telegram.SendRate <= 0 {
		return fmt.Errorf("telegram send rate must be positive, got %v", c.Telegram.SendRate)
	}
	if c.Telegram.MaxDownloadMB <= 0 {
		return fmt.Errorf("max download size must be positive, got %d", c.Telegram.MaxDownloadMB)
	}
	if _, err := time.ParseDuration(c.Timeouts.FollowUp); err != nil {
		return fmt.Errorf("invalid follow_up timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Timeouts.Attachments); err != nil {
		return fmt.Errorf("invalid attachments timeout: %w", err)
	}
	if (c.Google.ServiceAccountFile == "") != (c.Google.RootFolderID == "") {
		return errors.New("google service account file and root folder ID must be set together")
	}
	return nil
}
