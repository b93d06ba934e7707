// Package cli implements the dbcrust command-line surface: a single root
// command (plus its `dbc` alias) that either drops into the interactive
// REPL or, given `-c`/`-f`, executes the given statements in order and exits.
// Grounded on cmd/faucet/cli's root command: built by newRootCmd, with
// config file resolution and prefixed environment overrides wired through
// cobra.OnInitialize, generalized here to the DBCRUST_* prefix.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/config"
)

var (
	flagDebug       bool
	flagNoBanner    bool
	flagSSHTunnel   string
	flagOutput      string
	flagSQL         []string
	flagFile        string
	flagCompletions string
)

// Execute builds the root command, runs it, and returns the process exit
// code this documents: 0 success, 1 runtime error, 2 argument error,
// 130 interrupted.
func Execute() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if _, ok := err.(usageError); ok {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return backenderr.ExitCode(err)
	}
	return 0
}

// usageError marks a Cobra argument-parsing failure distinct from a
// runtime error, so Execute can map it to exit code 2 without inspecting
// Cobra's own error strings.
type usageError struct{ error }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dbcrust [URL]",
		Aliases:       []string{"dbc"},
		Short:         "Interactive, multi-backend database REPL client",
		Long: `dbcrust connects to Postgres, MySQL, SQLite, ClickHouse, MongoDB,
Elasticsearch, and local data files (CSV/Parquet/JSON) through one REPL,
resolving saved sessions, recent connections, Docker container discovery,
SSH tunnel patterns, and Vault dynamic credentials along the way.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usageError{fmt.Errorf("dbcrust accepts at most one connection URL, got %d", len(args))}
			}
			return nil
		},
		RunE: runRoot,
	}

	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&flagNoBanner, "no-banner", false, "suppress the startup banner")
	cmd.PersistentFlags().StringVar(&flagSSHTunnel, "ssh-tunnel", "", "SSH tunnel target (user@host[:port]) for this connection")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "table", "output format: table|expanded|json|csv")
	cmd.Flags().StringArrayVarP(&flagSQL, "command", "c", nil, "run SQL and exit (repeatable)")
	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "run the SQL script at this path and exit")
	cmd.Flags().StringVar(&flagCompletions, "completions", "", "print a shell completion script (bash|zsh|fish|powershell) and exit")

	cobra.OnInitialize(initConfig)

	return cmd
}

func initConfig() {
	viper.SetEnvPrefix("DBCRUST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagCompletions != "" {
		return writeCompletions(cmd, flagCompletions)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var url string
	if len(args) == 1 {
		url = args[0]
	}

	nonInteractive := len(flagSQL) > 0 || flagFile != ""
	if nonInteractive {
		return runNonInteractive(cfg, url)
	}
	return runInteractive(cfg, url)
}

func writeCompletions(cmd *cobra.Command, shell string) error {
	root := cmd.Root()
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(os.Stdout, true)
	case "zsh":
		return root.GenZshCompletion(os.Stdout)
	case "fish":
		return root.GenFishCompletion(os.Stdout, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(os.Stdout)
	default:
		return usageError{fmt.Errorf("unsupported shell %q for --completions", shell)}
	}
}
