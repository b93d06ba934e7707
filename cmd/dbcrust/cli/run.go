package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/config"
	"github.com/dbcrust/dbcrust/internal/render"
	"github.com/dbcrust/dbcrust/internal/resolver"
	"github.com/dbcrust/dbcrust/internal/session"
	"github.com/dbcrust/dbcrust/internal/tunnel"
)

// runInteractive drops into the REPL, connecting first to url
// (or prompting through the recent-connection picker when url is empty and
// stdin is a TTY) and then handing control to session.REPL.Run.
func runInteractive(cfg config.Config, url string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	d := buildDeps(cfg, os.Stdout, false)
	repl := session.New(session.Options{
		Config:     cfg,
		PassFile:   d.passFile,
		VaultCache: d.vaultCache,
		Docker:     d.dockerCli,
		Patterns:   patternsWithFlag(d.patterns),
		Sessions:   d.sessions,
		In:         os.Stdin,
		Out:        os.Stdout,
		Debug:      flagDebug,
		NoPrompt:   false,
	})

	if !flagNoBanner {
		fmt.Fprintln(os.Stdout, bannerText())
	}

	if url == "" && isTerminalStdin() {
		picked, ok, err := d.sessions.PickRecent(ctx)
		if err != nil {
			return err
		}
		if ok {
			url = picked
		}
	}
	if url != "" {
		if err := repl.Connect(ctx, url); err != nil {
			fmt.Fprintln(os.Stdout, err.Error())
		}
	}

	return repl.Run(ctx)
}

// runNonInteractive resolves url, runs every `-c` statement (or the `-f`
// script file's statements) in order, renders each with the format named
// by -o, and stops at and returns the first error so Execute can map it
// to the documented non-zero exit code.
func runNonInteractive(cfg config.Config, url string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if url == "" {
		return usageError{fmt.Errorf("a connection URL is required with -c/-f")}
	}

	d := buildDeps(cfg, os.Stdout, true)
	deps := resolver.Deps{
		PassFile:   d.passFile,
		VaultCache: d.vaultCache,
		Docker:     d.dockerCli,
		Containers: d.sessions,
		Sessions:   d.sessions,
		Patterns:   patternsWithFlag(d.patterns),
		Tunnels:    tunnel.NewPool(),
	}

	ci, t, err := resolver.Resolve(ctx, url, 0, deps, nil)
	if err != nil {
		return mapCancelled(ctx, err)
	}
	adapter, err := session.Dial(ctx, ci)
	if err != nil {
		if ae, ok := err.(*backenderr.Error); ok && ae.Kind == backenderr.KindAuthentication {
			retried, rerr := resolver.RetryWithPrompt(ctx, ci, deps)
			if rerr != nil {
				return mapCancelled(ctx, rerr)
			}
			adapter, err = session.Dial(ctx, retried)
			ci = retried
		}
		if err != nil {
			return mapCancelled(ctx, err)
		}
	}
	defer adapter.Close()
	if t != nil {
		defer t.Release()
	}

	renderCfg := session.RenderConfigFrom(cfg)

	statements, err := gatherStatements()
	if err != nil {
		return err
	}
	for _, sql := range statements {
		if err := runOne(ctx, adapter, renderCfg, sql); err != nil {
			return mapCancelled(ctx, err)
		}
	}
	return nil
}

func runOne(ctx context.Context, adapter backend.Adapter, cfg render.Config, sql string) error {
	rs, err := adapter.Execute(ctx, sql)
	if err != nil {
		return err
	}
	defer rs.Close()
	for {
		if err := renderOne(ctx, rs, cfg); err != nil {
			return err
		}
		if !rs.HasMore() {
			break
		}
		if err := rs.Advance(); err != nil {
			return err
		}
	}
	return nil
}

func renderOne(ctx context.Context, rs backend.RowSet, cfg render.Config) (err error) {
	switch flagOutput {
	case "json":
		_, _, err = render.RenderJSON(ctx, os.Stdout, rs, cfg)
	case "csv":
		_, _, err = render.RenderCSV(ctx, os.Stdout, rs, cfg)
	case "expanded":
		_, _, err = render.Render(ctx, os.Stdout, rs, cfg, true, nil)
	default:
		_, _, err = render.Render(ctx, os.Stdout, rs, cfg, false, nil)
	}
	return err
}

func gatherStatements() ([]string, error) {
	if flagFile != "" {
		body, err := os.ReadFile(flagFile)
		if err != nil {
			return nil, backenderr.IOf(err, "read %s", flagFile)
		}
		return []string{string(body)}, nil
	}
	return flagSQL, nil
}

func mapCancelled(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return backenderr.ErrCancelled
	}
	return err
}

func patternsWithFlag(base *tunnel.PatternList) *tunnel.PatternList {
	if flagSSHTunnel == "" {
		return base
	}
	pl, err := tunnel.Compile([][2]string{{".*", flagSSHTunnel}})
	if err != nil {
		return base
	}
	return pl
}

func bannerText() string {
	return "dbcrust — interactive multi-backend database client"
}

// isTerminalStdin reports whether stdin is an interactive terminal, used to
// decide whether the recent-connection picker may prompt.
func isTerminalStdin() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
