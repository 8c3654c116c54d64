// Package config loads and validates the ngconsole TOML configuration.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tessro/ngconsole/internal/paths"
)

// Defaults applied to anything the file leaves unset.
const (
	DefaultEntryScript     = "main.js"
	DefaultServerDir       = "server"
	DefaultInterpreterName = "node"
	DefaultInstallTimeout  = 5 * time.Minute
	DefaultGracePeriod     = time.Second
	DefaultListen          = "127.0.0.1:0"
	DefaultCols            = 80
	DefaultRows            = 24
	DefaultLogLevel        = "info"
)

// Config is the root of config.toml.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	RPC      RPCConfig      `toml:"rpc"`
	Terminal TerminalConfig `toml:"terminal"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ServerConfig describes how the companion server is launched.
type ServerConfig struct {
	// BundleDir holds the companion bundle (entry script plus server assets).
	BundleDir   string `toml:"bundle_dir"`
	EntryScript string `toml:"entry_script"`
	// ServerDir is relative to BundleDir and is sent with the "start" command.
	ServerDir string `toml:"server_dir"`
	// Interpreter is an explicit interpreter path; when empty
	// InterpreterName is looked up on PATH.
	Interpreter     string   `toml:"interpreter"`
	InterpreterName string   `toml:"interpreter_name"`
	Install         []string `toml:"install"`
	InstallTimeout  Duration `toml:"install_timeout"`
	GracePeriod     Duration `toml:"grace_period"`
	// QuietOutput logs companion output at debug instead of info.
	QuietOutput *bool    `toml:"quiet_output"`
	Env         []string `toml:"env"`
}

// RPCConfig configures the callback listener the companion dials.
type RPCConfig struct {
	Listen string `toml:"listen"`
}

// TerminalConfig sizes the PTY handed to terminal commands.
type TerminalConfig struct {
	Cols        int      `toml:"cols"`
	Rows        int      `toml:"rows"`
	GracePeriod Duration `toml:"grace_period"`
}

// LogConfig controls the host log file.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// MetricsConfig toggles the /metrics endpoint on the callback listener.
type MetricsConfig struct {
	Enabled *bool `toml:"enabled"`
}

// Duration is a time.Duration written as "5m" or "1500ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with every default filled in.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the config at paths.ConfigPath(). A missing file yields Default().
func Load() (*Config, error) {
	path, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the config at path. A missing file yields Default().
func LoadFromPath(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	s := &c.Server
	if s.EntryScript == "" {
		s.EntryScript = DefaultEntryScript
	}
	if s.ServerDir == "" {
		s.ServerDir = DefaultServerDir
	}
	if s.InterpreterName == "" {
		s.InterpreterName = DefaultInterpreterName
	}
	if s.InstallTimeout.Duration == 0 {
		s.InstallTimeout.Duration = DefaultInstallTimeout
	}
	if s.GracePeriod.Duration == 0 {
		s.GracePeriod.Duration = DefaultGracePeriod
	}
	if s.QuietOutput == nil {
		s.QuietOutput = boolPtr(true)
	}
	if c.RPC.Listen == "" {
		c.RPC.Listen = DefaultListen
	}
	if c.Terminal.Cols == 0 {
		c.Terminal.Cols = DefaultCols
	}
	if c.Terminal.Rows == 0 {
		c.Terminal.Rows = DefaultRows
	}
	if c.Terminal.GracePeriod.Duration == 0 {
		c.Terminal.GracePeriod.Duration = DefaultGracePeriod
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = boolPtr(true)
	}
}

// Quiet reports whether companion output is logged at debug level.
func (s ServerConfig) Quiet() bool {
	return s.QuietOutput == nil || *s.QuietOutput
}

// MetricsEnabled reports whether /metrics is served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

func boolPtr(b bool) *bool { return &b }
