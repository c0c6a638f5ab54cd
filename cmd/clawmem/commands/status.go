package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// newStatusCmd cria o comando `clawmem status`.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and provider status",
		Args:  cobra.NoArgs,
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

			st, err := m.Status(ctx)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print status as JSON")
	return cmd
}

func printStatus(w io.Writer, st memory.Status) {
	model := st.Model
	if st.Dimensions > 0 {
		model = fmt.Sprintf("%s (%d dims)", st.Model, st.Dimensions)
	}
	lastSync := "never"
	if st.LastSync != nil {
		lastSync = st.LastSync.Format(time.RFC3339)
	}

	fmt.Fprintf(w, "Workspace:  %s\n", st.Workspace)
	fmt.Fprintf(w, "Provider:   %s\n", st.Provider)
	fmt.Fprintf(w, "Model:      %s\n", model)
	fmt.Fprintf(w, "Cache:      %v (%d entries)\n", st.CacheEnabled, st.CacheEntries)
	fmt.Fprintf(w, "FTS5:       %v\n", st.FTS)
	fmt.Fprintf(w, "Vector:     %v\n", st.Vector)
	fmt.Fprintf(w, "Files:      %d\n", st.Files)
	fmt.Fprintf(w, "Chunks:     %d\n", st.Chunks)
	if len(st.BySource) > 0 {
		fmt.Fprintf(w, "  by source: %s\n", formatCounts(st.BySource))
	}
	if len(st.ByModel) > 0 {
		fmt.Fprintf(w, "  by model:  %s\n", formatCounts(st.ByModel))
	}
	fmt.Fprintf(w, "Last sync:  %s\n", lastSync)
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", st.LastError)
	}
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

// newHealthCmd cria o comando `clawmem health` para verificação de saúde.
// Usado pelo Docker HEALTHCHECK e monitoramento.
func newHealthCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database health",
		Long:  `Open the memory database and report its health as JSON. Exits non-zero when the database is unreachable. Used by Docker HEALTHCHECK and monitoring.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := prepare(cmd, true)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			out := json.NewEncoder(cmd.OutOrStdout())
			report := map[string]any{"status": "ok", "version": version}
			m, err := env.openMemory(ctx)
			if err != nil {
				report["status"] = "error"
				report["error"] = err.Error()
				_ = out.Encode(report)
				return fmt.Errorf("memory unavailable: %w", err)
			}
			defer m.Close()

			db, healthErr := m.Store().Backend().Health.Status(ctx)
			report["database"] = db
			if healthErr != nil {
				report["status"] = "error"
			}
			if err := out.Encode(report); err != nil {
				return err
			}
			if healthErr != nil {
				return fmt.Errorf("database unhealthy: %w", healthErr)
			}
			return nil
		},
	}
}
