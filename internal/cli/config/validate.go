package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var validTransports = map[string]bool{"tcp": true, "ipc": true}

// Validate checks settings every command relies on.
func (c *Config) Validate() error {
	var errs []error

	if c.Transport != "" && !validTransports[strings.ToLower(c.Transport)] {
		errs = append(errs, fmt.Errorf("transport must be tcp or ipc, got %q", c.Transport))
	}
	for name, port := range c.ports() {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Index.ModuleSuffix == "" {
		errs = append(errs, errors.New("index.module_suffix is required"))
	}
	if c.Index.Debounce < 0 {
		errs = append(errs, fmt.Errorf("index.debounce must not be negative, got %s", c.Index.Debounce))
	}

	return errors.Join(errs...)
}

// ValidateConnection checks the settings needed to bind the kernel sockets.
func (c *Config) ValidateConnection() error {
	var errs []error

	if c.Transport == "" {
		errs = append(errs, errors.New("transport is required"))
	}
	if c.IP == "" {
		errs = append(errs, errors.New("ip is required"))
	}
	for name, port := range c.ports() {
		if name == "stdin_port" {
			continue
		}
		if port == 0 {
			errs = append(errs, fmt.Errorf("%s is required\nHint: pass the connection file with --connection-file", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ports() map[string]int {
	return map[string]int{
		"shell_port":   c.ShellPort,
		"iopub_port":   c.IOPubPort,
		"stdin_port":   c.StdinPort,
		"control_port": c.ControlPort,
		"hb_port":      c.HBPort,
	}
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
