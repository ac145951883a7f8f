package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// EnvPrefix prefixes configuration environment variables. A double
// underscore separates nested keys: STARKERNEL_INDEX__ROOT sets index.root.
const EnvPrefix = "STARKERNEL_"

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config // Stores the loaded config for access by commands
)

// flagKeys maps command-line flags onto configuration keys. Flags missing
// from the map are not configuration.
var flagKeys = map[string]string{
	"transport":        "transport",
	"ip":               "ip",
	"index-root":       "index.root",
	"module-suffix":    "index.module_suffix",
	"archive-suffixes": "index.archive_suffixes",
	"watch":            "index.watch",
	"imports":          "completion.imports",
	"history":          "history.path",
	"max-steps":        "starlark.max_steps",
	"log-level":        "log.level",
	"output":           "output",
}

// Options names the sources Load reads.
type Options struct {
	// ConfigFile is an optional YAML settings file. When empty,
	// ./starkernel.yaml or ./starkernel.yml is used if present.
	ConfigFile string
	// ConnectionFile is the JSON connection file written by Jupyter.
	ConnectionFile string
	// Flags are the command's flags; only changed flags are applied.
	Flags *pflag.FlagSet
}

// findConfigFile finds the config file to use.
// Priority: explicit path > starkernel.yaml > starkernel.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"starkernel.yaml", "starkernel.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

func defaults() map[string]any {
	return map[string]any{
		"transport":              DefaultTransport,
		"ip":                     DefaultIP,
		"signature_scheme":       DefaultSignatureScheme,
		"kernel_name":            DefaultKernelName,
		"index.root":             "",
		"index.module_suffix":    DefaultModuleSuffix,
		"index.archive_suffixes": DefaultArchiveSuffixes,
		"index.watch":            false,
		"index.debounce":         DefaultDebounce.String(),
		"index.max_steps":        DefaultIndexMaxSteps,
		"index.workers":          0,
		"completion.imports":     []string{},
		"history.path":           DefaultHistoryFile,
		"starlark.max_steps":     0,
		"log.level":              DefaultLogLevel,
		"output":                 DefaultOutput,
	}
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// Load reads configuration from every source in precedence order:
// defaults < connection file < settings file < env vars < flags.
func Load(opts Options) (*Config, error) {
	// Reset koanf for fresh load
	k = koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Connection file. JSON is valid YAML.
	if opts.ConnectionFile != "" {
		if err := k.Load(file.Provider(opts.ConnectionFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading connection file %s: %w", opts.ConnectionFile, err)
		}
	}

	// 3. Settings file
	configFileUsed = findConfigFile(opts.ConfigFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 4. Environment variables: STARKERNEL_LOG__LEVEL -> log.level
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 5. Flags (highest priority)
	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 6. Unmarshal; durations and comma-separated lists arrive as strings
	// from env vars.
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Index.Root = expandPath(cfg.Index.Root)
	cfg.History.Path = expandPath(cfg.History.Path)

	// Store config for access by commands
	currentConfig = &cfg

	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after Load is called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR}
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandPath expands ${VAR} patterns and a leading ~.
func expandPath(p string) string {
	p = expandEnvVars(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
