package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/scheduler"
)

// newScheduleCmd cria o comando `clawmem schedule` para as tarefas de manutenção.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and run maintenance jobs",
		Long: `Inspect the maintenance jobs declared under scheduler.jobs and run
them on demand. Job state (last run, result, error) is kept in the memory
database and shared with "clawmem serve".

Examples:
  clawmem schedule list
  clawmem schedule run nightly-sync`,
	}

	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleRunCmd(),
	)
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured jobs and their last run",
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

			sched, err := newScheduler(m, env.cfg, env.logger)
			if err != nil {
				return err
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			jobs := sched.List()
			if asJSON {
				if jobs == nil {
					jobs = []scheduler.Job{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			printJobs(cmd.OutOrStdout(), jobs, env.cfg.Scheduler.Enabled)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print jobs as JSON")
	return cmd
}

func printJobs(w io.Writer, jobs []scheduler.Job, enabled bool) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No scheduled jobs.")
		return
	}
	if !enabled {
		fmt.Fprintln(w, "Scheduler is disabled (scheduler.enabled: false); jobs only run on demand.")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCHEDULE\tCOMMAND\tRUNS\tLAST RUN\tSTATUS")
	for _, j := range jobs {
		last := "-"
		if j.LastRunAt != nil {
			last = j.LastRunAt.Format("2006-01-02 15:04")
		}
		status := j.LastResult
		if j.LastError != "" {
			status = "error: " + j.LastError
		}
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", j.ID, j.Schedule, j.Command, j.RunCount, last, status)
	}
	_ = tw.Flush()
}

func newScheduleRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a job now",
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

			sched, err := newScheduler(m, env.cfg, env.logger)
			if err != nil {
				return err
			}
			if _, ok := sched.Get(args[0]); !ok {
				return fmt.Errorf("job %q not found (see: clawmem schedule list)", args[0])
			}

			start := time.Now()
			result, err := sched.RunNow(ctx, args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", result, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
