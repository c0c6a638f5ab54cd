package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/copilot"
	"github.com/jholhewres/clawmem/pkg/clawmem/mcp"
	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
	"github.com/jholhewres/clawmem/pkg/clawmem/scheduler"
)

// newServeCmd cria o comando `clawmem serve` que roda o serviço de memória.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory service (sync, watcher, scheduler)",
		Long: `Start clawmem as a long-running service. On start the workspace is
synced, then memory files are re-indexed as they change (index.auto) and
the maintenance jobs run on their cron schedules. With --mcp (or mcp.enabled)
an MCP server is served on stdio as well.

Examples:
  clawmem serve
  clawmem serve --mcp
  clawmem serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	cmd.Flags().Bool("no-watch", false, "disable the file watcher")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	env, err := prepare(cmd, false)
	if err != nil {
		return err
	}
	cfg, logger := env.cfg, env.logger

	ctx, stop := signalContext()
	defer stop()

	m, err := env.openMemory(ctx)
	if err != nil {
		return err
	}
	defer m.Close()

	// ── Sync inicial ──
	report, err := m.SyncWorkspace(ctx, m.Root())
	if err != nil {
		logger.Error("initial sync failed", "error", err)
	} else {
		logger.Info("workspace synced",
			"files", report.Files,
			"indexed", report.Indexed,
			"unchanged", report.Skipped,
			"failed", report.Failed,
			"retired", report.Retired,
			"duration", report.Duration.Round(time.Millisecond))
	}

	// ── Watcher ──
	noWatch, _ := cmd.Flags().GetBool("no-watch")
	var watcher *memory.Watcher
	if cfg.Memory.Index.Auto && !noWatch {
		watcher, err = m.WatchWorkspace(ctx, m.Root())
		if err != nil {
			logger.Error("failed to start watcher", "error", err)
		} else {
			logger.Info("watching workspace", "root", m.Root())
		}
	}

	// ── Scheduler ──
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled && len(cfg.Scheduler.Jobs) > 0 {
		sched, err = newScheduler(m, cfg, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	// ── MCP ──
	serveMCP, _ := cmd.Flags().GetBool("mcp")
	if serveMCP || cfg.MCP.Enabled {
		srv, err := mcp.New(cfg.MCP.Name, cmd.Root().Version, copilot.NewMemoryExecutor(m, logger), logger)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.ServeStdio(ctx); err != nil {
				logger.Error("MCP server stopped", "error", err)
				return
			}
			logger.Info("MCP client disconnected")
		}()
	}

	logger.Info("clawmem running. Press Ctrl+C to stop.",
		"workspace", m.Root(),
		"provider", m.Provider().ID(),
		"jobs", len(cfg.Scheduler.Jobs))

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	// Shutdown com timeout.
	done := make(chan struct{})
	go func() {
		if sched != nil {
			sched.Stop()
		}
		if watcher != nil {
			_ = watcher.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out after 15s, forcing exit")
	}
	return nil
}

// signalContext devolve um contexto cancelado por SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
