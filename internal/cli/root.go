// Package cli provides the command-line interface for starkernel.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starkernel/internal/cli/commands"
	"github.com/leapstack-labs/starkernel/internal/cli/config"
	"github.com/leapstack-labs/starkernel/internal/cli/output"
)

var (
	cfgFile        string
	connectionFile string
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// configKey is used to store config in context.
type configKey struct{}

// rendererKey is used to store renderer in context.
type rendererKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "starkernel",
		Short: "starkernel - Starlark kernel for Jupyter",
		Long: `starkernel runs Starlark cells for Jupyter frontends.

It speaks the Jupyter messaging protocol over ZeroMQ, keeps globals between
cells, completes names from the session and from an index of module
archives, and records executed cells in a local history database.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(config.Options{
				ConfigFile:     cfgFile,
				ConnectionFile: connectionFile,
				Flags:          cmd.Flags(),
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level, err := config.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			ctx = context.WithValue(ctx, config.LoggerKey(), logger)

			mode := output.Mode(cfg.OutputFormat)
			renderer := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
			ctx = context.WithValue(ctx, rendererKey{}, renderer)
			cmd.SetContext(ctx)

			if configFile := config.GetConfigFileUsed(); configFile != "" {
				logger.Debug("using config file", "path", configFile)
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Starlark kernel for Jupyter
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./starkernel.yaml)")
	rootCmd.PersistentFlags().StringVarP(&connectionFile, "connection-file", "f", "", "Jupyter connection file")
	rootCmd.PersistentFlags().String("transport", "", "Socket transport (tcp|ipc)")
	rootCmd.PersistentFlags().String("ip", "", "Address to bind")
	rootCmd.PersistentFlags().String("index-root", "", "Directory or archive of modules to index")
	rootCmd.PersistentFlags().String("module-suffix", "", "Archive entry suffix that marks a module")
	rootCmd.PersistentFlags().StringSlice("archive-suffixes", nil, "File suffixes treated as module archives")
	rootCmd.PersistentFlags().Bool("watch", false, "Rebuild the index when archives change")
	rootCmd.PersistentFlags().StringSlice("imports", nil, "Packages whose modules complete by simple name")
	rootCmd.PersistentFlags().String("history", "", "History database path (empty disables history)")
	rootCmd.PersistentFlags().Uint64("max-steps", 0, "Execution step limit per cell (0 for none)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|markdown|json|yaml)")

	// Register completion for enumerated flags
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.Modes, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("transport", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"tcp", "ipc"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommand(Version))
	rootCmd.AddCommand(commands.NewConsoleCommand(Version))
	rootCmd.AddCommand(commands.NewIndexCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewInstallCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return config.GetCurrentConfig()
}

// GetRenderer retrieves the renderer from the command context.
func GetRenderer(ctx context.Context) *output.Renderer {
	if r, ok := ctx.Value(rendererKey{}).(*output.Renderer); ok {
		return r
	}
	// Return default renderer if none in context
	return output.NewRenderer(os.Stdout, os.Stderr, output.ModeAuto)
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for starkernel.

To load completions:

Bash:
  $ source <(starkernel completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ starkernel completion bash > /etc/bash_completion.d/starkernel
  # macOS:
  $ starkernel completion bash > $(brew --prefix)/etc/bash_completion.d/starkernel

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ starkernel completion zsh > "${fpath[1]}/_starkernel"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ starkernel completion fish | source

  # To load completions for each session, execute once:
  $ starkernel completion fish > ~/.config/fish/completions/starkernel.fish

PowerShell:
  PS> starkernel completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> starkernel completion powershell > starkernel.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
