package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/copilot"
	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// searchFlags são os ajustes de busca aceitos por search e shell.
type searchFlags struct {
	limit    int
	minScore float64
	mmr      bool
	decay    bool
	asJSON   bool
}

func (f *searchFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "maximum results (default from config)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", -1, "drop results scoring below this (default from config)")
	cmd.Flags().BoolVar(&f.mmr, "mmr", false, "re-rank for diversity (MMR)")
	cmd.Flags().BoolVar(&f.decay, "decay", false, "apply temporal decay to dated notes")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print results as JSON")
}

// apply sobrepõe as flags aos padrões do manager.
func (f *searchFlags) apply(opts memory.SearchOptions) memory.SearchOptions {
	if f.limit > 0 {
		opts.MaxResults = f.limit
	}
	if f.minScore >= 0 {
		opts.MinScore = f.minScore
	}
	if f.mmr {
		opts.MMR.Enabled = true
	}
	if f.decay {
		opts.TemporalDecay.Enabled = true
		if opts.TemporalDecay.HalfLifeDays <= 0 {
			opts.TemporalDecay.HalfLifeDays = 30
		}
	}
	return opts
}

// newSearchCmd cria o comando `clawmem search <query>`.
func newSearchCmd() *cobra.Command {
	var flags searchFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory",
		Long: `Run a hybrid (keyword + semantic) search over the indexed memory files
and warmed sessions. Without an embedding provider the search is
keyword-only.

Examples:
  clawmem search "dentist appointment"
  clawmem search -n 10 --mmr "project deadlines"
  clawmem search --json backups`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := prepare(cmd, true)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			m, err := env.openMemory(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			return runSearch(ctx, m, strings.Join(args, " "), &flags, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

func runSearch(ctx context.Context, m *memory.Manager, query string, flags *searchFlags, out io.Writer) error {
	results, err := m.SearchHybrid(ctx, query, flags.apply(m.SearchDefaults()))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if flags.asJSON {
		if results == nil {
			results = []memory.SearchResult{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	fmt.Fprintln(out, copilot.FormatSearchResults(results))
	return nil
}

// newShellCmd cria o comando `clawmem shell`, um REPL de busca.
func newShellCmd() *cobra.Command {
	var flags searchFlags
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive search prompt",
		Long: `Open an interactive prompt. Each line is a search query.

Commands:
  :get <path> [from] [lines]   print a memory file
  :status                      show index status
  :sync                        re-sync the workspace
  :quit                        exit (also Ctrl+D)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := prepare(cmd, true)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			m, err := env.openMemory(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			return runShell(ctx, m, &flags, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

func runShell(ctx context.Context, m *memory.Manager, flags *searchFlags, out io.Writer) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".clawmem_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "memory> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	exec := copilot.NewMemoryExecutor(m, nil)
	fmt.Fprintln(out, "Type a query, :help for commands, Ctrl+D to exit.")

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q" || line == ":exit":
			return nil
		case line == ":help":
			fmt.Fprintln(out, ":get <path> [from] [lines] | :status | :sync | :quit")
		case strings.HasPrefix(line, ":"):
			fmt.Fprintln(out, shellCommand(ctx, exec, line))
		default:
			if err := runSearch(ctx, m, line, flags, out); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
	return nil
}

// shellCommand executa um comando ":" do shell pelo dispatcher de memória.
func shellCommand(ctx context.Context, exec *copilot.ToolExecutor, line string) string {
	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	if len(fields) == 0 {
		return "try :help"
	}
	args := map[string]any{}
	switch fields[0] {
	case "get":
		if len(fields) < 2 {
			return "usage: :get <path> [from] [lines]"
		}
		args["action"] = "get"
		args["path"] = fields[1]
		if len(fields) > 2 {
			args["from"] = fields[2]
		}
		if len(fields) > 3 {
			args["lines"] = fields[3]
		}
	case "status":
		args["action"] = "status"
	case "sync":
		args["action"] = "index"
	default:
		return fmt.Sprintf("unknown command %q (try :help)", fields[0])
	}

	out, err := exec.Call(ctx, copilot.MemoryToolName, args)
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}
