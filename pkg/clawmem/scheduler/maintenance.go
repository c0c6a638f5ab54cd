package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// Maintenance commands.
const (
	CommandSync         = "sync"
	CommandPruneCache   = "prune_cache"
	CommandWarmSessions = "warm_sessions"
)

// maxWarmSessions caps the sessions warmed per run.
const maxWarmSessions = 500

// MaintenanceOptions configures the maintenance handler.
type MaintenanceOptions struct {
	// CacheMaxEntries is the embedding cache bound for prune_cache; 0 skips.
	CacheMaxEntries int
}

// MaintenanceHandler returns a JobHandler that runs the maintenance
// commands against m.
func MaintenanceHandler(m *memory.Manager, opts MaintenanceOptions, logger *slog.Logger) JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, job *Job) (string, error) {
		switch job.Command {
		case CommandSync:
			report, err := m.SyncWorkspace(ctx, m.Root())
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d files, %d indexed, %d failed, %d retired",
				report.Files, report.Indexed, report.Failed, report.Retired), nil

		case CommandPruneCache:
			if opts.CacheMaxEntries <= 0 {
				return "cache pruning disabled", nil
			}
			n, err := m.PruneCache(ctx, opts.CacheMaxEntries)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d cache entries removed", n), nil

		case CommandWarmSessions:
			var since time.Time
			if job.PreviousRunAt != nil {
				since = *job.PreviousRunAt
			}
			return warmSessions(ctx, m, since, logger)

		default:
			return "", fmt.Errorf("unknown maintenance command %q", job.Command)
		}
	}
}

// warmSessions indexes the transcripts of sessions updated since since.
// One failing session does not stop the others.
func warmSessions(ctx context.Context, m *memory.Manager, since time.Time, logger *slog.Logger) (string, error) {
	sessions, err := m.Store().ListSessions(ctx, since, maxWarmSessions)
	if err != nil {
		return "", err
	}

	var warmed, skipped int
	var errs []error
	for _, info := range sessions {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := m.WarmSessionByID(ctx, info.ID)
		if err != nil {
			logger.Warn("session warm failed", "session", info.ID, "error", err)
			errs = append(errs, fmt.Errorf("session %s: %w", info.ID, err))
			continue
		}
		if out.Skipped {
			skipped++
		} else {
			warmed++
		}
	}

	summary := fmt.Sprintf("%d sessions warmed, %d unchanged", warmed, skipped)
	if len(errs) > 0 && warmed+skipped == 0 {
		return summary, errors.Join(errs...)
	}
	return summary, nil
}
