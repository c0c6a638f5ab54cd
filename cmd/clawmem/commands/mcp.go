package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/copilot"
	"github.com/jholhewres/clawmem/pkg/clawmem/mcp"
)

// newMCPCmd creates the `clawmem mcp` command group for MCP server operations.
func newMCPCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol server",
		Long:  `Expose the memory tools (search, get, save, index, status) to MCP clients.`,
	}

	cmd.AddCommand(newMCPServeCmd(version))
	return cmd
}

// newMCPServeCmd creates the `clawmem mcp serve` command.
func newMCPServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start MCP server over stdio",
		Long: `Start the MCP server using stdio transport (JSON-RPC 2.0 over stdin/stdout).
Logs go to stderr. The workspace is synced once before serving unless
--no-sync is given.

Add to your IDE configuration:

  Cursor/VSCode (.cursor/mcp.json or .vscode/mcp.json):
  {
    "mcpServers": {
      "clawmem": {
        "command": "clawmem",
        "args": ["mcp", "serve"]
      }
    }
  }

  Project-level (.mcp.json):
  {
    "mcpServers": {
      "clawmem": {
        "command": "clawmem",
        "args": ["mcp", "serve", "--config", "/path/to/config.yaml"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := prepare(cmd, false)
			if err != nil {
				return err
			}
			logger := env.logger

			ctx, stop := signalContext()
			defer stop()

			m, err := env.openMemory(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			if noSync, _ := cmd.Flags().GetBool("no-sync"); !noSync {
				if report, err := m.SyncWorkspace(ctx, m.Root()); err != nil {
					logger.Warn("initial sync failed", "error", err)
				} else {
					logger.Info("workspace synced", "files", report.Files, "indexed", report.Indexed)
				}
			}

			server, err := mcp.New(env.cfg.MCP.Name, version, copilot.NewMemoryExecutor(m, logger), logger)
			if err != nil {
				return err
			}

			logger.Info("starting MCP server on stdio", "workspace", m.Root())
			if err := server.ServeStdio(ctx); err != nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-sync", false, "skip the workspace sync before serving")
	return cmd
}
