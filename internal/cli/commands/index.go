package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/starkernel/internal/cli/output"
	"github.com/leapstack-labs/starkernel/internal/completion"
)

// rootPackageLabel is shown for modules at the top of an archive.
const rootPackageLabel = "(root)"

// NewIndexCommand creates the index command.
func NewIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [root]",
		Short: "Build and show the completion index",
		Long: `Index every module archive under a directory, or a single archive, and
list the packages, modules and exports found. Modules that fail to load are
left out; their packages are still listed.

Output adapts to environment:
  - Terminal: Styled table
  - Piped/Scripted: Markdown format (agent-friendly)

Use --output to override: auto, text, markdown, json, yaml`,
		Example: `  # Index the configured root
  starkernel index

  # Index one archive as JSON
  starkernel index ./lib/net.zip --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args)
		},
	}

	return cmd
}

type indexReport struct {
	Root     string          `json:"root" yaml:"root"`
	Modules  int             `json:"modules" yaml:"modules"`
	Packages []packageReport `json:"packages" yaml:"packages"`
}

type packageReport struct {
	Name    string         `json:"name" yaml:"name"`
	Modules []moduleReport `json:"modules" yaml:"modules"`
}

type moduleReport struct {
	Name    string   `json:"name" yaml:"name"`
	Archive string   `json:"archive" yaml:"archive"`
	Exports []string `json:"exports" yaml:"exports"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg

	root := cfg.Index.Root
	if len(args) > 0 {
		root = args[0]
	}
	if root == "" {
		return fmt.Errorf("no index root\nHint: pass a path or set index.root")
	}
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("index root not accessible: %w", err)
	}

	ix, err := newBuilder(cfg, cmdCtx.Logger).Build(cmd.Context(), root)
	if err != nil {
		return err
	}

	return renderIndex(cmdCtx.Renderer, buildIndexReport(root, ix))
}

func buildIndexReport(root string, ix *completion.Index) indexReport {
	report := indexReport{Root: root, Modules: ix.Len()}
	for _, pkg := range ix.Packages() {
		mods, _ := ix.Modules(pkg)
		pr := packageReport{Name: pkg, Modules: []moduleReport{}}
		for _, m := range mods {
			pr.Modules = append(pr.Modules, moduleReport{
				Name:    m.Name,
				Archive: m.Archive,
				Exports: m.Exports.Keys(),
			})
		}
		report.Packages = append(report.Packages, pr)
	}
	return report
}

func renderIndex(r *output.Renderer, report indexReport) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(report)
	case output.ModeYAML:
		return writeYAML(r.Writer(), report)
	case output.ModeMarkdown:
		r.Header(2, "Index")
		r.Println(output.FormatKeyValue("Root", report.Root))
		r.Println(output.FormatKeyValue("Packages", fmt.Sprint(len(report.Packages))))
		r.Println(output.FormatKeyValue("Modules", fmt.Sprint(report.Modules)))
		r.Println("")
		if len(report.Packages) > 0 {
			r.Println(indexTable(report).RenderMarkdown())
		}
		return nil
	default:
		r.Header(1, fmt.Sprintf("Index of %s", report.Root))
		if len(report.Packages) == 0 {
			r.Muted("No archives found")
			return nil
		}
		t := indexTable(report)
		t.SetStyle(table.StyleLight)
		r.Println(t.Render())
		return nil
	}
}

func indexTable(report indexReport) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Package", "Module", "Exports"})
	for _, pkg := range report.Packages {
		name := pkg.Name
		if name == "" {
			name = rootPackageLabel
		}
		if len(pkg.Modules) == 0 {
			t.AppendRow(table.Row{name, "", ""})
			continue
		}
		for _, m := range pkg.Modules {
			t.AppendRow(table.Row{name, m.Name, strings.Join(m.Exports, ", ")})
		}
	}
	t.AppendFooter(table.Row{fmt.Sprintf("(%d packages)", len(report.Packages)), fmt.Sprintf("(%d modules)", report.Modules), ""})
	return t
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
