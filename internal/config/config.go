package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// ConfigFileName is the conventional name of the configuration file.
	ConfigFileName = "drawpile-srv.toml"

	// DefaultPort is the default TCP listen port.
	DefaultPort = 27750

	// DefaultHTTPAddr is the default bind address for the HTTP
	// surface (websocket upgrade, metrics, status API).
	DefaultHTTPAddr = ":27780"

	// DefaultSessionLimit is the default maximum number of
	// concurrent sessions.
	DefaultSessionLimit = 1

	// DefaultUserLimit is the default maximum number of concurrent
	// users, handshaking connections included.
	DefaultUserLimit = 10

	// DefaultSubscriptionLimit is the default number of sessions one
	// user may be subscribed to at once.
	DefaultSubscriptionLimit = 1

	// DefaultNameLenLimit is the default maximum user name and
	// session title length in bytes.
	DefaultNameLenLimit = 8

	// DefaultMinDimension is the smallest canvas width or height a
	// session may be created with.
	DefaultMinDimension = 400

	// DefaultIdleTimeout is the default time budget for completing
	// the handshake, and the idle limit for active connections when
	// idle reaping is enabled.
	DefaultIdleTimeout = 3 * time.Minute
)

// Config is the complete server configuration.
type Config struct {
	Listen   ListenConfig   `toml:"listen"`
	Limits   LimitsConfig   `toml:"limits"`
	Session  SessionConfig  `toml:"session"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
	Admin    AdminConfig    `toml:"admin"`
}

// ListenConfig describes the listening sockets.
type ListenConfig struct {
	// Address is the interface the TCP listener binds to. Empty
	// binds all interfaces.
	Address string `toml:"address"`

	// Port is the TCP listen port for the binary protocol.
	Port int `toml:"port"`

	// HTTP is the bind address of the HTTP listener carrying the
	// websocket endpoint, prometheus metrics and the status API.
	// Empty disables the HTTP listener.
	HTTP string `toml:"http"`
}

// LimitsConfig caps the server's resource usage.
type LimitsConfig struct {
	// Sessions is the maximum number of concurrent sessions.
	Sessions int `toml:"sessions"`

	// Users is the maximum number of concurrent connections,
	// including ones still in the handshake.
	Users int `toml:"users"`

	// Subscriptions is how many sessions one user may be a member
	// of at the same time.
	Subscriptions int `toml:"subscriptions"`

	// NameLength is the maximum user name and session title length
	// in bytes.
	NameLength int `toml:"name-length"`

	// MinDimension is the smallest canvas width or height allowed
	// at session creation.
	MinDimension int `toml:"min-dimension"`
}

// SessionConfig sets session-level policy.
type SessionConfig struct {
	// Transient shuts the server down when the last user leaves.
	Transient bool `toml:"transient"`

	// UniqueNames rejects logins and session titles that collide
	// with a name already in use.
	UniqueNames bool `toml:"unique-names"`

	// DuplicateConnections allows more than one connection from the
	// same address.
	DuplicateConnections bool `toml:"duplicate-connections"`

	// Password is the server-wide connection password. Empty means
	// no password challenge at connect time.
	Password string `toml:"password"`
}

// TimeoutsConfig sets the connection time budgets.
type TimeoutsConfig struct {
	// Idle is the handshake deadline and, when reaping is on, the
	// idle limit for active connections. The effective handshake
	// deadline shrinks while many handshakes are pending.
	Idle duration `toml:"idle"`

	// ReapIdlers drops active connections that send nothing for the
	// idle limit.
	ReapIdlers bool `toml:"reap-idlers"`
}

// AdminConfig sets administrator policy.
type AdminConfig struct {
	// LocalhostAdmin promotes users connecting from loopback to
	// admin at login.
	LocalhostAdmin bool `toml:"localhost-admin"`

	// Password authenticates remote users as admin through the
	// Authenticate instruction. Empty disables remote admin.
	Password string `toml:"password"`
}

// duration wraps time.Duration so TOML files can say "3m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Listen: ListenConfig{
			Port: DefaultPort,
			HTTP: DefaultHTTPAddr,
		},
		Limits: LimitsConfig{
			Sessions:      DefaultSessionLimit,
			Users:         DefaultUserLimit,
			Subscriptions: DefaultSubscriptionLimit,
			NameLength:    DefaultNameLenLimit,
			MinDimension:  DefaultMinDimension,
		},
		Timeouts: TimeoutsConfig{
			Idle: duration{DefaultIdleTimeout},
		},
	}
}

// Load reads configuration from path. A missing file is not an
// error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := New()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills in zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := New()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.Limits.Sessions == 0 {
		c.Limits.Sessions = d.Limits.Sessions
	}
	if c.Limits.Users == 0 {
		c.Limits.Users = d.Limits.Users
	}
	if c.Limits.Subscriptions == 0 {
		c.Limits.Subscriptions = d.Limits.Subscriptions
	}
	if c.Limits.NameLength == 0 {
		c.Limits.NameLength = d.Limits.NameLength
	}
	if c.Limits.MinDimension == 0 {
		c.Limits.MinDimension = d.Limits.MinDimension
	}
	if c.Timeouts.Idle.Duration == 0 {
		c.Timeouts.Idle = d.Timeouts.Idle
	}
}

// Validate checks the configuration for values the server cannot
// run with.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Listen.Port)
	}
	if c.Listen.Address != "" {
		if ip := net.ParseIP(c.Listen.Address); ip == nil {
			return fmt.Errorf("config: listen address %q is not an IP", c.Listen.Address)
		}
	}
	// User and session ids share the one-byte space with 0 reserved.
	if c.Limits.Users < 1 || c.Limits.Users > 254 {
		return fmt.Errorf("config: user limit %d out of range 1..254", c.Limits.Users)
	}
	if c.Limits.Sessions < 1 || c.Limits.Sessions > 254 {
		return fmt.Errorf("config: session limit %d out of range 1..254", c.Limits.Sessions)
	}
	if c.Limits.Subscriptions < 1 || c.Limits.Subscriptions > c.Limits.Sessions {
		return fmt.Errorf("config: subscription limit %d out of range 1..%d",
			c.Limits.Subscriptions, c.Limits.Sessions)
	}
	if c.Limits.NameLength < 1 || c.Limits.NameLength > 255 {
		return fmt.Errorf("config: name length limit %d out of range 1..255", c.Limits.NameLength)
	}
	if c.Limits.MinDimension < 1 || c.Limits.MinDimension > 65535 {
		return fmt.Errorf("config: minimum dimension %d out of range", c.Limits.MinDimension)
	}
	if c.Timeouts.Idle.Duration <= 0 {
		return fmt.Errorf("config: idle timeout must be positive")
	}
	return nil
}

// ListenAddr returns the host:port string for the TCP listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Address, strconv.Itoa(c.Listen.Port))
}

// IdleTimeout returns the handshake and idle time budget.
func (c *Config) IdleTimeout() time.Duration {
	return c.Timeouts.Idle.Duration
}
