package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/starkernel/internal/cli/output"
	"github.com/leapstack-labs/starkernel/internal/completion"
	"github.com/leapstack-labs/starkernel/internal/kernel"
	starctx "github.com/leapstack-labs/starkernel/internal/starlark"
	"github.com/leapstack-labs/starkernel/internal/wire"
)

const continuationPrompt = "   ...: "

// NewConsoleCommand creates the console command.
func NewConsoleCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Start an interactive Starlark console",
		Long: `Start a terminal console backed by the same interpreter, completion
index and history store as the kernel.

Blocks opened by a line ending in ":" or by an unclosed bracket continue
until an empty line. Tab completes names.`,
		Example: `  # Start the console
  starkernel console

  # Complete and load() modules from an archive tree
  starkernel console --index-root ./lib --imports util`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsole(cmd, version)
		},
	}

	return cmd
}

func runConsole(cmd *cobra.Command, version string) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	logger := cmdCtx.Logger
	ctx := cmd.Context()

	wireSession := wire.NewSession(cfg.KernelName)
	sess, err := newSession(ctx, cfg, logger, &starctx.KernelInfo{
		Implementation: "starkernel",
		Version:        version,
		Session:        wireSession.ID,
	})
	if err != nil {
		return err
	}

	c := &console{
		interp:    sess.interp,
		completer: sess.completer,
		r:         cmdCtx.Renderer,
		count:     1,
	}

	var historyFile string
	if cfg.History.Path != "" {
		store, err := openHistory(ctx, cfg.History.Path, wireSession.ID)
		if err != nil {
			logger.Warn("history disabled", "path", cfg.History.Path, "error", err)
		} else {
			defer func() { _ = store.Close() }()
			c.history = store
			historyFile = filepath.Join(filepath.Dir(cfg.History.Path), "console_history")
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     historyFile,
		AutoComplete:    lineCompleter{completer: sess.completer},
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize console: %w", err)
	}
	defer func() { _ = rl.Close() }()

	c.r.Println(kernelInfo(version).Banner)
	c.r.Muted("Type .help for commands, .quit to exit")
	c.r.Println("")

	return c.loop(ctx, rl)
}

// lineReader is the part of readline the console loop uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// loop reads cells until EOF or .quit. Ctrl-C discards a pending block.
func (c *console) loop(ctx context.Context, rl lineReader) error {
	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(c.prompt())
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("console: read line: %w", err)
		}

		if buf.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ".") {
				if quit := c.dotCommand(trimmed); quit {
					return nil
				}
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		if needsMore(buf.String(), line) {
			rl.SetPrompt(continuationPrompt)
			continue
		}

		code := buf.String()
		buf.Reset()
		c.execute(ctx, code)
		rl.SetPrompt(c.prompt())
	}
}

// cellRecorder stores executed cells.
type cellRecorder interface {
	Record(ctx context.Context, line int, source string, ok bool) error
}

// console evaluates cells typed at the terminal.
type console struct {
	interp    *starctx.Interpreter
	completer *completion.Completer
	history   cellRecorder
	r         *output.Renderer
	count     int
}

func (c *console) prompt() string {
	return c.r.Styles().Prompt.Render(fmt.Sprintf("In [%d]: ", c.count))
}

// execute runs one cell and prints what it produced.
func (c *console) execute(ctx context.Context, code string) {
	result, hasValue, err := c.interp.Interpret(code)

	stdout, stderr := c.interp.Flush()
	if stdout != "" {
		_, _ = fmt.Fprint(c.r.Writer(), stdout)
	}
	if stderr != "" {
		_, _ = fmt.Fprint(c.r.ErrWriter(), stderr)
	}

	switch {
	case err != nil:
		var failure kernel.Failure
		if errors.As(err, &failure) {
			for _, line := range failure.Traceback() {
				c.r.Error(line)
			}
		} else {
			c.r.Error(err.Error())
		}
	case hasValue:
		c.r.Println(c.r.Styles().Prompt.Render(fmt.Sprintf("Out[%d]: ", c.count)) + result)
	}

	if c.history != nil {
		if herr := c.history.Record(ctx, c.count, code, err == nil); herr != nil {
			c.r.Warning(fmt.Sprintf("failed to record history: %v", herr))
		}
	}
	c.count++
}

// dotCommand handles a console command and reports whether to quit.
func (c *console) dotCommand(line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true
	case ".help":
		printConsoleHelp(c.r.Writer())
	case ".locals":
		renderLocals(c.r.Writer(), c.interp.Locals())
	case ".clear":
		_, _ = fmt.Fprint(c.r.Writer(), "\033[H\033[2J")
	default:
		c.r.Error(fmt.Sprintf("Unknown command: %s (type .help for commands)", parts[0]))
	}
	return false
}

func printConsoleHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .locals         List the names defined in this session
  .clear          Clear the screen
  .quit / .exit   Exit the console

Tips:
  - End a block with an empty line
  - Ctrl-C discards the current input
  - Tab completes names, members and modules
`
	_, _ = fmt.Fprintln(w, help)
}

const maxValueWidth = 60

// renderLocals prints the user-visible globals as a table.
func renderLocals(w io.Writer, locals starlark.StringDict) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Type", "Value"})

	rows := 0
	for _, name := range locals.Keys() {
		v := locals[name]
		if _, builtin := v.(*starlark.Builtin); builtin {
			continue
		}
		t.AppendRow(table.Row{name, v.Type(), truncate(v.String(), maxValueWidth)})
		rows++
	}
	t.AppendFooter(table.Row{fmt.Sprintf("(%d names)", rows), "", ""})
	t.Render()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width-1]) + "…"
}

// needsMore reports whether the console should keep reading lines into the
// current cell. An empty line always ends the cell.
func needsMore(code, last string) bool {
	if strings.TrimSpace(last) == "" {
		return false
	}
	if bracketDepth(code) > 0 {
		return true
	}
	for _, line := range strings.Split(code, "\n") {
		if strings.HasSuffix(strings.TrimSpace(line), ":") {
			return true
		}
	}
	return false
}

// bracketDepth counts unclosed brackets outside string literals and
// comments.
func bracketDepth(code string) int {
	depth := 0
	var quote rune
	escaped := false
	comment := false
	for _, r := range code {
		switch {
		case comment:
			if r == '\n' {
				comment = false
			}
		case quote != 0:
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
		case r == '#':
			comment = true
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
		}
	}
	return depth
}

// lineCompleter adapts the completer to readline. Candidates are returned
// as suffixes of the segment after the last dot.
type lineCompleter struct {
	completer *completion.Completer
}

func (lc lineCompleter) Do(line []rune, pos int) ([][]rune, int) {
	matches, query, _ := lc.completer.Complete(string(line[:pos]))

	segment := query
	if i := strings.LastIndexByte(query, '.'); i >= 0 {
		segment = query[i+1:]
	}

	seen := make(map[string]bool)
	var out [][]rune
	for _, m := range matches {
		var suffix string
		switch {
		case strings.HasPrefix(m, query):
			suffix = m[len(query):]
		case strings.HasPrefix(m, segment):
			suffix = m[len(segment):]
		default:
			continue
		}
		if !seen[suffix] {
			seen[suffix] = true
			out = append(out, []rune(suffix))
		}
	}
	return out, utf8.RuneCountInString(segment)
}
