package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starkernel/internal/cli/output"
)

// InstallOptions holds options for the install command.
type InstallOptions struct {
	Name        string
	DisplayName string
	Prefix      string
	Executable  string
}

// KernelSpec is the kernel.json Jupyter reads to launch a kernel.
type KernelSpec struct {
	Argv          []string `json:"argv"`
	DisplayName   string   `json:"display_name"`
	Language      string   `json:"language"`
	InterruptMode string   `json:"interrupt_mode"`
}

// NewInstallCommand creates the install command.
func NewInstallCommand() *cobra.Command {
	opts := &InstallOptions{}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the Jupyter kernelspec",
		Long: `Write a kernelspec so Jupyter can launch this binary as a kernel.

The kernelspec is written to the user's Jupyter data directory unless --prefix is
given, in which case it goes under <prefix>/share/jupyter/kernels.`,
		Example: `  # Install for the current user
  starkernel install

  # Install into a virtual environment
  starkernel install --prefix "$VIRTUAL_ENV"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInstall(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "starlark", "Kernelspec directory name")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "Starlark", "Name shown in the Jupyter launcher")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Install under <prefix>/share/jupyter/kernels")
	cmd.Flags().StringVar(&opts.Executable, "executable", "", "Kernel binary to launch (default: this binary)")

	return cmd
}

func runInstall(cmd *cobra.Command, opts *InstallOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	exe := opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}
	}

	dir, err := kernelspecDir(opts.Prefix, opts.Name)
	if err != nil {
		return err
	}

	path, err := writeKernelSpec(dir, newKernelSpec(exe, opts.DisplayName))
	if err != nil {
		return err
	}

	cmdCtx.Logger.Info("kernelspec installed", "path", path)
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(map[string]string{"name": opts.Name, "path": path})
	case output.ModeMarkdown:
		r.Header(2, "Kernelspec installed")
		r.Println(output.FormatKeyValue("Name", opts.Name))
		r.Println(output.FormatKeyValue("Path", path))
	default:
		r.Success(fmt.Sprintf("Installed kernelspec %s in %s", opts.Name, dir))
	}
	return nil
}

func newKernelSpec(exe, displayName string) KernelSpec {
	return KernelSpec{
		Argv:          []string{exe, "run", "--connection-file", "{connection_file}"},
		DisplayName:   displayName,
		Language:      "starlark",
		InterruptMode: "signal",
	}
}

// writeKernelSpec writes kernel.json into dir and returns its path.
func writeKernelSpec(dir string, spec KernelSpec) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create kernelspec directory: %w", err)
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "kernel.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write kernelspec: %w", err)
	}
	return path, nil
}

// kernelspecDir resolves where the kernelspec named name is installed.
func kernelspecDir(prefix, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("kernelspec name is required")
	}
	if prefix != "" {
		return filepath.Join(prefix, "share", "jupyter", "kernels", name), nil
	}
	data, err := jupyterDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "kernels", name), nil
}

// jupyterDataDir mirrors Jupyter's per-user data directory lookup.
func jupyterDataDir() (string, error) {
	if dir := os.Getenv("JUPYTER_DATA_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Jupyter"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "jupyter"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "jupyter"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "jupyter"), nil
		}
		return filepath.Join(home, ".local", "share", "jupyter"), nil
	}
}
