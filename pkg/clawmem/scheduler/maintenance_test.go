package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

func newTestManager(t *testing.T) *memory.Manager {
	t.Helper()
	dir := t.TempDir()
	store, err := memory.OpenStore(context.Background(), filepath.Join(dir, "memory.db"), discardLogger())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	root := filepath.Join(dir, "workspace")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	return memory.NewManager(store, nil, root, memory.WithLogger(discardLogger()))
}

func TestMaintenanceHandler_Sync(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	if err := os.WriteFile(filepath.Join(m.Root(), "MEMORY.md"), []byte("- backups run at 02:00\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(MaintenanceHandler(m, MaintenanceOptions{}, discardLogger()), discardLogger())
	if err := s.Add(&Job{ID: "resync", Schedule: "@every 30m", Command: CommandSync}); err != nil {
		t.Fatal(err)
	}

	out, err := s.RunNow(context.Background(), "resync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if out != "1 files, 1 indexed, 0 failed, 0 retired" {
		t.Errorf("sync result = %q", out)
	}
	st, _ := m.Status(context.Background())
	if st.LastSync == nil {
		t.Error("sync job did not record a sync")
	}
}

func TestMaintenanceHandler_WarmSessionsIsIncremental(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t)

	sess := memory.NewSession("whatsapp", "1")
	sess.Entries = []memory.ConversationEntry{
		{UserMessage: "the plumber comes on thursday", AssistantResponse: "noted", Timestamp: time.Now()},
	}
	if err := m.Store().SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	s := New(MaintenanceHandler(m, MaintenanceOptions{}, discardLogger()), discardLogger())
	if err := s.Add(&Job{ID: "warm", Schedule: "@hourly", Command: CommandWarmSessions}); err != nil {
		t.Fatal(err)
	}

	out, err := s.RunNow(ctx, "warm")
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if out != "1 sessions warmed, 0 unchanged" {
		t.Errorf("first warm = %q", out)
	}

	results, err := m.Search(ctx, "plumber")
	if err != nil || len(results) == 0 || results[0].Source != memory.SourceSession {
		t.Errorf("warmed session not searchable: %+v, %v", results, err)
	}

	out, err = s.RunNow(ctx, "warm")
	if err != nil {
		t.Fatalf("second warm: %v", err)
	}
	if !strings.HasPrefix(out, "0 sessions warmed") {
		t.Errorf("second warm = %q, want nothing re-embedded", out)
	}
}

func TestMaintenanceHandler_PruneAndUnknown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(t)

	disabled := MaintenanceHandler(m, MaintenanceOptions{}, discardLogger())
	if out, err := disabled(ctx, &Job{Command: CommandPruneCache}); err != nil || out != "cache pruning disabled" {
		t.Errorf("prune disabled = %q, %v", out, err)
	}

	h := MaintenanceHandler(m, MaintenanceOptions{CacheMaxEntries: 10}, discardLogger())
	if out, err := h(ctx, &Job{Command: CommandPruneCache}); err != nil || out != "0 cache entries removed" {
		t.Errorf("prune = %q, %v", out, err)
	}
	if _, err := h(ctx, &Job{Command: "vacuum"}); err == nil {
		t.Error("unknown command accepted")
	}
}
