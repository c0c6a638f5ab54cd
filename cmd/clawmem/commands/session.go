package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// newSessionCmd cria o grupo `clawmem session` para conversas armazenadas.
func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage stored conversations",
		Long: `List, inspect, delete and warm stored conversation sessions. Warming
indexes a session transcript so it shows up in memory searches.

Examples:
  clawmem session list --since 24h
  clawmem session show <id>
  clawmem session warm --all`,
	}

	cmd.AddCommand(
		newSessionListCmd(),
		newSessionShowCmd(),
		newSessionDeleteCmd(),
		newSessionWarmCmd(),
	)
	return cmd
}

func newSessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := prepare(cmd, true)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			m, err := env.openMemory(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			sessions, err := m.Store().ListSessions(ctx, from, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCHANNEL\tCHAT\tENTRIES\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Channel, s.ChatID, s.EntryCount, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Duration("since", 0, "only sessions updated within this window (e.g. 24h)")
	cmd.Flags().Int("limit", 50, "maximum sessions (0 = all)")
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
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

			sess, err := m.Store().LoadSession(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sess.Transcript())
			return nil
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its indexed transcript",
		Args:  cobra.ExactArgs(1),
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

			sess, err := m.Store().LoadSession(ctx, args[0])
			if err != nil {
				return err
			}
			if err := m.Store().DeleteFile(ctx, sess.TranscriptPath(), memory.SourceSession); err != nil {
				return err
			}
			if err := m.Store().DeleteSession(ctx, sess.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted.\n", sess.ID)
			return nil
		},
	}
}

func newSessionWarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm [id]...",
		Short: "Index session transcripts for search",
		Long: `Index the transcripts of the given sessions, or of every session
updated within --since (all sessions with --all). Unchanged transcripts
are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			since, _ := cmd.Flags().GetDuration("since")
			if len(args) == 0 && !all && since <= 0 {
				return fmt.Errorf("pass session IDs, --since or --all")
			}

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

			ids := args
			if len(ids) == 0 {
				var from time.Time
				if !all {
					from = time.Now().Add(-since)
				}
				sessions, err := m.Store().ListSessions(ctx, from, 0)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					ids = append(ids, s.ID)
				}
			}

			out := cmd.OutOrStdout()
			var warmed, skipped, failed int
			for _, id := range ids {
				res, err := m.WarmSessionByID(ctx, id)
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
				case res.Skipped:
					skipped++
				default:
					warmed++
				}
			}
			fmt.Fprintf(out, "%d sessions warmed, %d unchanged, %d failed\n", warmed, skipped, failed)
			if failed > 0 {
				return fmt.Errorf("%d sessions failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "warm every stored session")
	cmd.Flags().Duration("since", 0, "warm sessions updated within this window")
	return cmd
}
