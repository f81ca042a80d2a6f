package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Listen.Port, DefaultPort)
	}
	if cfg.Limits.Users != DefaultUserLimit {
		t.Errorf("user limit = %d, want %d", cfg.Limits.Users, DefaultUserLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := writeFile(t, `
[listen]
port = 9000

[limits]
users = 50

[session]
transient = true
password = "hunter2"

[timeouts]
idle = "90s"
reap-idlers = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Listen.Port)
	}
	if cfg.Limits.Users != 50 {
		t.Errorf("user limit = %d, want 50", cfg.Limits.Users)
	}
	// Unset fields fall back to defaults.
	if cfg.Limits.Sessions != DefaultSessionLimit {
		t.Errorf("session limit = %d, want default %d", cfg.Limits.Sessions, DefaultSessionLimit)
	}
	if cfg.Limits.NameLength != DefaultNameLenLimit {
		t.Errorf("name length = %d, want default %d", cfg.Limits.NameLength, DefaultNameLenLimit)
	}
	if !cfg.Session.Transient {
		t.Error("transient not set")
	}
	if cfg.Session.Password != "hunter2" {
		t.Errorf("password = %q", cfg.Session.Password)
	}
	if got := cfg.IdleTimeout(); got != 90*time.Second {
		t.Errorf("idle timeout = %v, want 90s", got)
	}
	if !cfg.Timeouts.ReapIdlers {
		t.Error("reap-idlers not set")
	}
}

func TestLoadBadTOML(t *testing.T) {
	path := writeFile(t, `[listen`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed TOML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port_zero", func(c *Config) { c.Listen.Port = 0 }, true},
		{"port_high", func(c *Config) { c.Listen.Port = 70000 }, true},
		{"bad_address", func(c *Config) { c.Listen.Address = "not-an-ip" }, true},
		{"good_address", func(c *Config) { c.Listen.Address = "127.0.0.1" }, false},
		{"users_zero", func(c *Config) { c.Limits.Users = 0 }, true},
		{"users_over_id_space", func(c *Config) { c.Limits.Users = 255 }, true},
		{"sessions_over_id_space", func(c *Config) { c.Limits.Sessions = 300 }, true},
		{"subs_over_sessions", func(c *Config) { c.Limits.Subscriptions = 5 }, true},
		{"subs_within_sessions", func(c *Config) {
			c.Limits.Sessions = 5
			c.Limits.Subscriptions = 5
		}, false},
		{"name_length_over_wire", func(c *Config) { c.Limits.NameLength = 256 }, true},
		{"idle_zero", func(c *Config) { c.Timeouts.Idle.Duration = 0 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	cfg := New()
	if got := cfg.ListenAddr(); got != ":27750" {
		t.Errorf("ListenAddr = %q, want %q", got, ":27750")
	}
	cfg.Listen.Address = "10.0.0.1"
	cfg.Listen.Port = 9999
	if got := cfg.ListenAddr(); got != "10.0.0.1:9999" {
		t.Errorf("ListenAddr = %q", got)
	}
}
