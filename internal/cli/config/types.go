// Package config loads starkernel configuration.
//
// Values come, lowest precedence first, from built-in defaults, the Jupyter
// connection file, an optional YAML settings file, STARKERNEL_ environment
// variables, and command-line flags.
package config

import "time"

// Config holds all CLI configuration options. The top-level keys mirror the
// Jupyter connection file.
type Config struct {
	Transport       string `koanf:"transport"`
	IP              string `koanf:"ip"`
	ShellPort       int    `koanf:"shell_port"`
	IOPubPort       int    `koanf:"iopub_port"`
	StdinPort       int    `koanf:"stdin_port"`
	ControlPort     int    `koanf:"control_port"`
	HBPort          int    `koanf:"hb_port"`
	Key             string `koanf:"key"`
	SignatureScheme string `koanf:"signature_scheme"`
	KernelName      string `koanf:"kernel_name"`

	Index      IndexConfig      `koanf:"index"`
	Completion CompletionConfig `koanf:"completion"`
	History    HistoryConfig    `koanf:"history"`
	Starlark   StarlarkConfig   `koanf:"starlark"`
	Log        LogConfig        `koanf:"log"`

	OutputFormat string `koanf:"output"`
}

// IndexConfig controls the completion index.
type IndexConfig struct {
	Root            string        `koanf:"root"`
	ModuleSuffix    string        `koanf:"module_suffix"`
	ArchiveSuffixes []string      `koanf:"archive_suffixes"`
	Watch           bool          `koanf:"watch"`
	Debounce        time.Duration `koanf:"debounce"`
	MaxSteps        uint64        `koanf:"max_steps"`
	Workers         int           `koanf:"workers"`
}

// CompletionConfig controls query-time completion.
type CompletionConfig struct {
	Imports []string `koanf:"imports"`
}

// HistoryConfig controls the execution history store. An empty path
// disables it.
type HistoryConfig struct {
	Path string `koanf:"path"`
}

// StarlarkConfig controls the interpreter.
type StarlarkConfig struct {
	MaxSteps uint64         `koanf:"max_steps"`
	Globals  map[string]any `koanf:"globals"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `koanf:"level"`
}

// Default configuration values.
const (
	DefaultTransport       = "tcp"
	DefaultIP              = "127.0.0.1"
	DefaultSignatureScheme = "hmac-sha256"
	DefaultKernelName      = "starlark"
	DefaultModuleSuffix    = ".star"
	DefaultDebounce        = 250 * time.Millisecond
	DefaultIndexMaxSteps   = 1_000_000
	DefaultHistoryFile     = ".starkernel/history.db"
	DefaultLogLevel        = "warn"
	DefaultOutput          = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// DefaultArchiveSuffixes are the file suffixes indexed as module archives.
var DefaultArchiveSuffixes = []string{".zip", ".jar"}
