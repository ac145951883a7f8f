package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/starkernel/internal/cli/output"
	"github.com/leapstack-labs/starkernel/internal/history"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Tail     int
	Session  int64
	Start    int
	Stop     int
	Sessions bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show executed cells",
		Long: `Show cells recorded by the kernel and the console.

By default the most recent cells across all sessions are listed. Use
--session to list a line range of one session, or --sessions to list the
sessions themselves.`,
		Example: `  # Last 20 cells
  starkernel history

  # Lines 3 to 9 of session 2
  starkernel history --session 2 --start 3 --stop 10

  # Every session as JSON
  starkernel history --sessions -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Tail, "tail", "n", 20, "Number of recent cells to show")
	cmd.Flags().Int64Var(&opts.Session, "session", 0, "Show one session instead of the tail")
	cmd.Flags().IntVar(&opts.Start, "start", 1, "First line of the session range")
	cmd.Flags().IntVar(&opts.Stop, "stop", 0, "Line after the last one in the session range (0 for all)")
	cmd.Flags().BoolVar(&opts.Sessions, "sessions", false, "List sessions")

	return cmd
}

type historyEntry struct {
	Session int64     `json:"session" yaml:"session"`
	Line    int       `json:"line" yaml:"line"`
	Status  string    `json:"status" yaml:"status"`
	Source  string    `json:"source" yaml:"source"`
	Time    time.Time `json:"time" yaml:"time"`
}

type historySession struct {
	ID            int64      `json:"id" yaml:"id"`
	KernelSession string     `json:"kernel_session" yaml:"kernel_session"`
	StartedAt     time.Time  `json:"started_at" yaml:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	Commands      int        `json:"commands" yaml:"commands"`
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	if opts.Session < 0 {
		return fmt.Errorf("--session must be a session number, got %d", opts.Session)
	}

	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()

	store, err := openHistoryReadOnly(cmdCtx.Cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.Sessions {
		sessions, err := store.Sessions(ctx)
		if err != nil {
			return err
		}
		return renderSessions(cmdCtx.Renderer, toHistorySessions(sessions))
	}

	var entries []history.Entry
	if opts.Session != 0 {
		entries, err = store.Range(ctx, opts.Session, opts.Start, opts.Stop)
	} else {
		entries, err = store.Tail(ctx, opts.Tail)
	}
	if err != nil {
		return err
	}
	return renderEntries(cmdCtx.Renderer, toHistoryEntries(entries))
}

func toHistoryEntries(entries []history.Entry) []historyEntry {
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			Session: e.Session,
			Line:    e.Line,
			Status:  e.Status,
			Source:  e.Source,
			Time:    e.CreatedAt,
		})
	}
	return out
}

func toHistorySessions(sessions []history.Session) []historySession {
	out := make([]historySession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, historySession{
			ID:            s.ID,
			KernelSession: s.KernelSession,
			StartedAt:     s.StartedAt,
			EndedAt:       s.EndedAt,
			Commands:      s.Commands,
		})
	}
	return out
}

func renderEntries(r *output.Renderer, entries []historyEntry) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(entries)
	case output.ModeYAML:
		return writeYAML(r.Writer(), entries)
	}

	if len(entries) == 0 {
		r.Muted("No history")
		return nil
	}

	titleCaser := cases.Title(language.English)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Session", "Line", "Status", "Source", "Time"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Session,
			e.Line,
			titleCaser.String(e.Status),
			firstLine(e.Source),
			e.Time.Local().Format(time.DateTime),
		})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("(%d cells)", len(entries)), ""})
	return renderTable(r, "History", t)
}

func renderSessions(r *output.Renderer, sessions []historySession) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(sessions)
	case output.ModeYAML:
		return writeYAML(r.Writer(), sessions)
	}

	if len(sessions) == 0 {
		r.Muted("No sessions")
		return nil
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Session", "Kernel Session", "Started", "Ended", "Cells"})
	for _, s := range sessions {
		ended := "running"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format(time.DateTime)
		}
		t.AppendRow(table.Row{s.ID, s.KernelSession, s.StartedAt.Local().Format(time.DateTime), ended, s.Commands})
	}
	return renderTable(r, "Sessions", t)
}

// renderTable writes t as markdown when output is piped, and as a light
// box table on a terminal.
func renderTable(r *output.Renderer, title string, t table.Writer) error {
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Header(2, title)
		r.Println(t.RenderMarkdown())
		return nil
	}
	t.SetStyle(table.StyleLight)
	r.Header(1, title)
	r.Println(t.Render())
	return nil
}

// firstLine shortens a multi-line cell for table display.
func firstLine(source string) string {
	source = strings.TrimRight(source, "\n")
	line, rest, multi := strings.Cut(source, "\n")
	if multi && rest != "" {
		return truncate(line, maxValueWidth) + " …"
	}
	return truncate(line, maxValueWidth)
}
