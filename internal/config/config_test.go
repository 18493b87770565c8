package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearGoogleEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_DRIVE_ROOT_FOLDER_ID", "")
	t.Setenv("PORT", "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldbot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearGoogleEnv(t)
	t.Setenv("BOT_TOKEN", "tok-123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.Telegram.Token != "tok-123" {
		t.Errorf("Token = %q, want env override", cfg.Telegram.Token)
	}
	if got := cfg.Timeouts.FollowUpWindow(); got != 30*time.Second {
		t.Errorf("FollowUpWindow() = %v, want 30s", got)
	}
	if got := cfg.Timeouts.AttachmentsWindow(); got != 10*time.Minute {
		t.Errorf("AttachmentsWindow() = %v, want 10m", got)
	}
}

func TestLoadFile(t *testing.T) {
	clearGoogleEnv(t)
	t.Setenv("BOT_TOKEN", "")
	path := writeConfig(t, `
http_port: 9090
telegram:
  token: file-token
  poll_timeout_seconds: 30
timeouts:
  follow_up: 45s
  attachments: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.Telegram.Token != "file-token" {
		t.Errorf("Token = %q, want file-token", cfg.Telegram.Token)
	}
	if got := cfg.Timeouts.FollowUpWindow(); got != 45*time.Second {
		t.Errorf("FollowUpWindow() = %v, want 45s", got)
	}
	// Unset fields keep their defaults.
	if cfg.Telegram.SendBurst != 5 {
		t.Errorf("SendBurst = %d, want default 5", cfg.Telegram.SendBurst)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearGoogleEnv(t)
	t.Setenv("BOT_TOKEN", "env-token")
	path := writeConfig(t, "telegram:\n  token: file-token\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("Token = %q, env must win over file", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Telegram.Token = "tok"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Telegram.Token = "" },
			wantErr: "token",
		},
		{
			name:    "bad follow_up",
			mutate:  func(c *Config) { c.Timeouts.FollowUp = "pronto" },
			wantErr: "follow_up",
		},
		{
			name:    "bad attachments",
			mutate:  func(c *Config) { c.Timeouts.Attachments = "-" },
			wantErr: "attachments",
		},
		{
			name:    "zero send rate",
			mutate:  func(c *Config) { c.Telegram.SendRate = 0 },
			wantErr: "send rate",
		},
		{
			name:    "credentials without folder",
			mutate:  func(c *Config) { c.Google.ServiceAccountFile = "sa.json" },
			wantErr: "together",
		},
		{
			name: "credentials with folder",
			mutate: func(c *Config) {
				c.Google.ServiceAccountFile = "sa.json"
				c.Google.RootFolderID = "folder"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() with missing file should fail")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "tok")
	path := writeConfig(t, "telegram: [broken")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with malformed YAML should fail")
	}
}
