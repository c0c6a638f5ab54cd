// Package commands implementa os comandos CLI do clawmem usando cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd cria o comando raiz do CLI com todos os subcomandos registrados.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawmem",
		Short: "clawmem - long-term memory for chat assistants",
		Long: `clawmem indexes a workspace of Markdown memory files (MEMORY.md,
memory/*.md) and stored conversations into SQLite, and answers hybrid
keyword + semantic searches over them.

Examples:
  clawmem sync
  clawmem search "when is the dentist appointment"
  clawmem serve
  clawmem mcp serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Registra subcomandos.
	rootCmd.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newIndexCmd(),
		newSearchCmd(),
		newShellCmd(),
		newStatusCmd(),
		newSessionCmd(),
		newScheduleCmd(),
		newMCPCmd(version),
		newConfigCmd(),
		newAuthCmd(),
		newHealthCmd(version),
		newCompletionCmd(),
	)

	// Flags globais.
	rootCmd.PersistentFlags().StringP("config", "c", "", "caminho para o arquivo de configuração")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "habilita logs detalhados")

	return rootCmd
}
