package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/config"
	"github.com/dbcrust/dbcrust/internal/credstore"
	"github.com/dbcrust/dbcrust/internal/docker"
	"github.com/dbcrust/dbcrust/internal/namedquery"
	"github.com/dbcrust/dbcrust/internal/render"
	"github.com/dbcrust/dbcrust/internal/resolver"
	"github.com/dbcrust/dbcrust/internal/tunnel"
)

// State is one of the REPL loop states.
type State string

const (
	StateIdle                     State = "idle"
	StateReadingMultiLine         State = "reading_multi_line"
	StateExecuting                State = "executing"
	StateRendering                State = "rendering"
	StatePromptingPassword        State = "prompting_password"
	StatePromptingColumnSelection State = "prompting_column_selection"
	StateTerminating              State = "terminating"
)

// Toggles holds the per-session view toggles kept alongside the active
// adapter: expanded display, EXPLAIN mode, and forced column selection
// (the memory itself lives in ColumnMemory).
type Toggles struct {
	Expanded        bool
	ExplainMode     bool
	ColumnSelection bool
}

// REPL implements the state machine and owns every piece of in-memory
// session state: the active adapter, toggles, column memory, and
// named-query scopes.
type REPL struct {
	state State

	cfg    config.Config
	render render.Config

	adapter  backend.Adapter
	connInfo backend.ConnectionInfo
	tunnel   *tunnel.Tunnel

	toggles Toggles
	columns *ColumnMemory
	queries *namedquery.Store
	lastSQL string

	multiline strings.Builder

	deps     resolver.Deps
	sessions *SessionManager

	out io.Writer
	in  *bufio.Reader
	log *logrus.Logger

	cancelActive context.CancelFunc
}

// Options bundles everything New needs to assemble a REPL: the loaded
// config, every resolver dependency, and the input/output streams.
type Options struct {
	Config     config.Config
	PassFile   *credstore.PassFile
	VaultCache *credstore.VaultCache
	Docker     *docker.Client
	Patterns   *tunnel.PatternList
	Sessions   *SessionManager
	In         io.Reader
	Out        io.Writer
	Debug      bool
	NoPrompt   bool
}

// New builds a REPL ready to Run, wiring every resolver.Deps field from
// opts so Resolve can be called uniformly for the initial connection and
// every `\c`-triggered reconnect.
func New(opts Options) *REPL {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	prompter := NewTerminalPrompter(out)
	r := &REPL{
		state:   StateIdle,
		cfg:     opts.Config,
		render:  RenderConfigFrom(opts.Config),
		toggles: Toggles{Expanded: opts.Config.Database.ExpandedDisplayDefault},
		columns: NewColumnMemory(opts.In, out, opts.NoPrompt),
		queries: namedquery.New(),
		out:     out,
		in:      bufio.NewReader(opts.In),
		log:     NewLogger(opts.Debug, os.Stderr),
		deps:    resolver.Deps{
			PassFile:   opts.PassFile,
			VaultCache: opts.VaultCache,
			Docker:     opts.Docker,
			Containers: opts.Sessions,
			Sessions:   opts.Sessions,
			Patterns:   opts.Patterns,
			Tunnels:    tunnel.NewPool(),
			Prompter:   prompter,
		},
		sessions: opts.Sessions,
	}
	return r
}

// RenderConfigFrom builds a render.Config from the [database]/[display]/
// [complex_display] sections of cfg, shared by the REPL and by the
// non-interactive `-c`/`-f` entry point so both render identically.
func RenderConfigFrom(cfg config.Config) render.Config {
	return render.Config{
		DefaultLimit:             cfg.Database.DefaultLimit,
		ExpandedDisplayDefault:   cfg.Database.ExpandedDisplayDefault,
		ShowExecutionTime:        cfg.Database.ShowExecutionTime,
		AutoExplainThresholdMS:   cfg.Database.AutoExplainThresholdMS,
		NullDisplay:              cfg.Database.NullDisplay,
		BorderStyle:              render.BorderStyle(cfg.Display.BorderStyle),
		DateFormat:               cfg.Display.DateFormat,
		NumberFormat:             render.NumberFormat(cfg.Display.NumberFormat),
		MaxColumnWidth:           cfg.Display.MaxColumnWidth,
		TruncateLongValues:       cfg.Display.TruncateLongValues,
		ColumnSelectionThreshold: cfg.Display.ColumnSelectionThreshold,
		ComplexDisplayMode:       render.ComplexMode(cfg.ComplexDisplay.DisplayMode),
		TruncationLength:         cfg.ComplexDisplay.TruncationLength,
		SizeThreshold:            cfg.ComplexDisplay.SizeThreshold,
		ShowComplexMetadata:      cfg.ComplexDisplay.ShowMetadata,
		ComplexMaxWidth:          cfg.ComplexDisplay.MaxWidth,
		RowBufferLimit:           1000,
	}
}

// Connect resolves raw and dials the adapter it describes, replacing
// whatever adapter/tunnel was previously active. Called once at startup
// and again on every `\c url`.
func (r *REPL) Connect(ctx context.Context, raw string) error {
	ci, t, err := resolver.Resolve(ctx, raw, 0, r.deps, nil)
	if err != nil {
		return err
	}
	adapter, err := connect(ctx, ci)
	if err != nil {
		if ae, ok := err.(*backenderr.Error); ok && ae.Kind == backenderr.KindAuthentication {
			retried, rerr := resolver.RetryWithPrompt(ctx, ci, r.deps)
			if rerr != nil {
				return rerr
			}
			adapter, err = connect(ctx, retried)
			ci = retried
		}
		if err != nil {
			return err
		}
	}
	r.closeActive()
	r.adapter = adapter
	r.connInfo = ci
	r.tunnel = t
	if r.sessions != nil {
		_ = r.sessions.RecordRecent(ci.DisplayURL)
	}
	return nil
}

func (r *REPL) closeActive() {
	if r.adapter != nil {
		_ = r.adapter.Close()
		r.adapter = nil
	}
	if r.tunnel != nil {
		_ = r.tunnel.Release()
		r.tunnel = nil
	}
}

// Run drives the REPL loop until Terminating is reached (via \q, EOF, or an
// unrecoverable transport error), reading lines from r.in and writing
// prompts/results to r.out.
func (r *REPL) Run(ctx context.Context) error {
	for r.state != StateTerminating {
		r.printPrompt()
		line, err := r.in.ReadString('\n')
		if err == io.EOF {
			r.state = StateTerminating
			break
		}
		if err != nil {
			return backenderr.IOf(err, "read input")
		}
		if stepErr := r.step(ctx, strings.TrimRight(line, "\n")); stepErr != nil {
			if !isRecoverable(stepErr) {
				r.state = StateTerminating
				r.closeActive()
				return stepErr
			}
			fmt.Fprintln(r.out, stepErr.Error())
			r.state = StateIdle
		}
	}
	r.closeActive()
	return nil
}

func isRecoverable(err error) bool {
	ae, ok := err.(*backenderr.Error)
	return ok && ae.Recoverable()
}

func (r *REPL) printPrompt() {
	if r.state == StateReadingMultiLine {
		fmt.Fprint(r.out, "-> ")
		return
	}
	kind := "dbcrust"
	if r.adapter != nil {
		kind = string(r.adapter.Kind())
	}
	fmt.Fprintf(r.out, "%s=> ", kind)
}

// step advances the state machine by one input line, per the
// transition table.
func (r *REPL) step(ctx context.Context, line string) error {
	trimmed := strings.TrimSpace(line)

	if r.state == StateReadingMultiLine {
		r.multiline.WriteString("\n")
		r.multiline.WriteString(line)
		if endsStatement(trimmed) {
			sql := r.multiline.String()
			r.multiline.Reset()
			r.state = StateIdle
			return r.executeAndRender(ctx, sql)
		}
		return nil
	}

	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "\\") {
		return r.dispatchMeta(ctx, trimmed[1:])
	}

	if q, args, ok := r.tryNamedQuery(trimmed); ok {
		sql, err := namedquery.Substitute(q.Body, args)
		if err != nil {
			return err
		}
		return r.executeAndRender(ctx, sql)
	}

	if !endsStatement(trimmed) {
		r.state = StateReadingMultiLine
		r.multiline.Reset()
		r.multiline.WriteString(line)
		return nil
	}
	return r.executeAndRender(ctx, line)
}

func endsStatement(trimmed string) bool {
	return strings.HasSuffix(trimmed, ";")
}

// tryNamedQuery classifies trimmed as a named-query invocation: its first
// token must match a defined name and must not be a SQL keyword, so SQL
// always wins on collision. namedquery.Store.Define already refuses to
// register a keyword as a name; the check here also covers a name that
// collides with a keyword added to sqlKeywords after the query was
// defined under an older build.
func (r *REPL) tryNamedQuery(line string) (namedquery.Query, []string, bool) {
	name, args := namedquery.TokenizeInvocation(line)
	if name == "" || namedquery.IsSQLKeyword(name) {
		return namedquery.Query{}, nil, false
	}
	backendKind := ""
	if r.adapter != nil {
		backendKind = string(r.adapter.Kind())
	}
	q, ok := r.queries.Lookup(name, backendKind)
	return q, args, ok
}

func (r *REPL) executeAndRender(ctx context.Context, sql string) error {
	if r.adapter == nil {
		return backenderr.Connectionf(nil, "not connected")
	}
	r.lastSQL = sql
	r.state = StateExecuting

	execCtx, cancel := context.WithCancel(ctx)
	r.cancelActive = cancel
	defer func() { r.cancelActive = nil }()

	start := time.Now()
	rs, err := r.adapter.Execute(execCtx, sql)
	if err != nil {
		return err
	}
	defer rs.Close()
	r.state = StateRendering

	for {
		if r.toggles.ExplainMode {
			plan, perr := r.adapter.BeginQueryPlan(execCtx, sql)
			if perr == nil && plan != nil {
				render.RenderPlan(r.out, plan)
			}
		}
		var selector render.ColumnSelector
		if r.columns.Forced() || r.render.ColumnSelectionThreshold > 0 {
			selector = r.columns
		}
		_, _, rerr := render.Render(execCtx, r.out, rs, r.render, r.toggles.Expanded, selector)
		if rerr != nil {
			return rerr
		}
		if r.render.ShowExecutionTime {
			fmt.Fprintf(r.out, "(%s)\n", time.Since(start))
		}
		if !rs.HasMore() {
			break
		}
		if aerr := rs.Advance(); aerr != nil {
			return aerr
		}
	}
	r.state = StateIdle
	return nil
}

// Cancel implements the SIGINT handling: it cancels whatever
// context the currently outstanding Execute call was given, returning the
// REPL to Idle with no partial output once the adapter unwinds.
func (r *REPL) Cancel() {
	if r.cancelActive != nil {
		r.cancelActive()
	}
}
