package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validation sentinels, matched with errors.Is.
var (
	ErrMissingBundleDir = errors.New("bundle directory is not configured")
	ErrInvalidListen    = errors.New("listen address is not host:port")
	ErrInvalidSize      = errors.New("terminal size must be positive")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrInvalidLogLevel  = errors.New("log level must be debug, info, warn or error")
	ErrEmptyInstallArg  = errors.New("install command contains an empty argument")
)

// ValidationError pins a problem to the config key that caused it.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks c and returns every problem joined, or nil.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, value, msg string, err error) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Message: msg, Err: err})
	}

	if strings.TrimSpace(c.Server.BundleDir) == "" {
		add("server.bundle_dir", "", "must point at the companion bundle", ErrMissingBundleDir)
	}
	for _, arg := range c.Server.Install {
		if strings.TrimSpace(arg) == "" {
			add("server.install", strings.Join(c.Server.Install, " "), "arguments cannot be blank", ErrEmptyInstallArg)
			break
		}
	}
	if c.Server.InstallTimeout.Duration < 0 {
		add("server.install_timeout", c.Server.InstallTimeout.String(), "must be positive", ErrInvalidDuration)
	}
	if c.Server.GracePeriod.Duration < 0 {
		add("server.grace_period", c.Server.GracePeriod.String(), "must be positive", ErrInvalidDuration)
	}
	if _, _, err := net.SplitHostPort(c.RPC.Listen); err != nil {
		add("rpc.listen", c.RPC.Listen, "must be host:port", ErrInvalidListen)
	}
	if c.Terminal.Cols < 0 {
		add("terminal.cols", fmt.Sprint(c.Terminal.Cols), "must be positive", ErrInvalidSize)
	}
	if c.Terminal.Rows < 0 {
		add("terminal.rows", fmt.Sprint(c.Terminal.Rows), "must be positive", ErrInvalidSize)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", c.Log.Level, "unknown level", ErrInvalidLogLevel)
	}

	return errors.Join(errs...)
}
