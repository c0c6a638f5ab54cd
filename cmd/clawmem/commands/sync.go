package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// newSyncCmd cria o comando `clawmem sync` que indexa o workspace inteiro.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Index every memory file in the workspace",
		Long: `Index MEMORY.md and memory/**/*.md. Unchanged files are skipped and
files that were removed (or are now ignored) are dropped from the index.

Examples:
  clawmem sync
  clawmem sync -c ./config.yaml`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	env, err := prepare(cmd, true)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	// Barra de progresso só quando stdout é um terminal.
	var bar *progressbar.ProgressBar
	var opts []memory.Option
	if isTerminal(os.Stdout) {
		opts = append(opts, memory.WithSyncProgress(func(done, total int, path string) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("  Indexing"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(done)
		}))
	}

	m, err := env.openMemory(ctx, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	report, err := m.SyncWorkspace(ctx, m.Root())
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d files (%d indexed, %d unchanged, %d failed, %d retired), %d chunks in %s\n",
		report.Files, report.Indexed, report.Skipped, report.Failed, report.Retired, report.Chunks,
		report.Duration.Round(time.Millisecond))
	if report.Failed > 0 {
		return fmt.Errorf("%d files failed to index (run with -v for details)", report.Failed)
	}
	return nil
}

// newIndexCmd cria o comando `clawmem index <file>`.
func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <file>...",
		Short: "Index specific memory files",
		Long: `Re-index one or more memory files. Paths may be absolute or relative
to the workspace; files outside MEMORY.md and memory/ are rejected.

Examples:
  clawmem index MEMORY.md
  clawmem index memory/2026-03-01.md memory/projects.md`,
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

			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				res, err := m.IndexFile(ctx, m.Root(), path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				if res.Skipped {
					fmt.Fprintf(out, "%s is up to date\n", res.Path)
					continue
				}
				fmt.Fprintf(out, "Indexed %s: %d chunks (%d embedded, %d from cache)\n",
					res.Path, res.Chunks, res.Embeds, res.Cached)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}
