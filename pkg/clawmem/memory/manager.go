// Package memory implements the long-term memory of the gateway: a SQLite
// chunk store with lexical and vector views, incremental indexing of the
// workspace memory files, and hybrid retrieval with temporal decay and MMR.
//
// The Manager is the entry point. It is safe for concurrent use by the file
// watcher, agent searches and tool invocations.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultWatchDebounce = 500 * time.Millisecond
	snippetMaxChars      = 700
)

// Manager coordinates the store, the embedding provider and the workspace.
type Manager struct {
	store    *Store
	provider EmbeddingProvider
	root     string
	logger   *slog.Logger
	notes    *Notes

	now           func() time.Time
	chunkMaxChars int
	cacheEnabled  bool
	searchDefault SearchOptions
	debounce      time.Duration
	progress      SyncProgressFunc

	mu        sync.Mutex
	lastError string
	lastSync  time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for decay and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithChunkMaxChars sets the chunk character budget.
func WithChunkMaxChars(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.chunkMaxChars = n
		}
	}
}

// WithEmbeddingCache toggles the embedding cache.
func WithEmbeddingCache(enabled bool) Option {
	return func(m *Manager) { m.cacheEnabled = enabled }
}

// WithSearchDefaults sets the options used by Search.
func WithSearchDefaults(opts SearchOptions) Option {
	return func(m *Manager) { m.searchDefault = opts }
}

// SyncProgressFunc is called by SyncWorkspace after each file.
type SyncProgressFunc func(done, total int, path string)

// WithSyncProgress installs a SyncWorkspace progress callback.
func WithSyncProgress(fn SyncProgressFunc) Option {
	return func(m *Manager) { m.progress = fn }
}

// WithWatchDebounce sets the watcher debounce delay.
func WithWatchDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// NewManager creates a Manager over store. A nil provider disables vectors.
// root is the workspace used for mtime-based decay and notes.
func NewManager(store *Store, provider EmbeddingProvider, root string, opts ...Option) *Manager {
	if provider == nil {
		provider = &NullEmbedder{}
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	m := &Manager{
		store:         store,
		provider:      provider,
		root:          root,
		logger:        slog.Default(),
		notes:         NewNotes(root),
		now:           time.Now,
		chunkMaxChars: DefaultChunkMaxChars,
		cacheEnabled:  true,
		searchDefault: DefaultSearchOptions(),
		debounce:      defaultWatchDebounce,
	}
	for _, opt := range opts {
		opt(m)
	}
	store.now = m.now
	return m
}

// Store returns the underlying chunk store.
func (m *Manager) Store() *Store { return m.store }

// Provider returns the embedding provider.
func (m *Manager) Provider() EmbeddingProvider { return m.provider }

// Root returns the workspace root.
func (m *Manager) Root() string { return m.root }

// Close closes the store.
func (m *Manager) Close() error { return m.store.Close() }

// Search runs SearchHybrid with the configured defaults.
func (m *Manager) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return m.SearchHybrid(ctx, query, m.searchDefault)
}

// SearchDefaults returns the configured default search options.
func (m *Manager) SearchDefaults() SearchOptions { return m.searchDefault }

func (m *Manager) recordError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
}

// ---------- Notes ----------

// SaveFact appends a fact to MEMORY.md and indexes it.
func (m *Manager) SaveFact(ctx context.Context, category, content string) (string, error) {
	rel, err := m.notes.AppendFact(Note{Content: content, Category: category, Timestamp: m.now()})
	if err != nil {
		return "", err
	}
	if _, err := m.IndexFile(ctx, m.root, rel); err != nil {
		return rel, err
	}
	return rel, nil
}

// SaveDailyLog appends to today's daily log and indexes it.
func (m *Manager) SaveDailyLog(ctx context.Context, content string) (string, error) {
	rel, err := m.notes.AppendDailyLog(m.now(), content)
	if err != nil {
		return "", err
	}
	if _, err := m.IndexFile(ctx, m.root, rel); err != nil {
		return rel, err
	}
	return rel, nil
}

// Notes returns the workspace note writer.
func (m *Manager) Notes() *Notes { return m.notes }

// ---------- Read ----------

// ReadFileOptions selects a line window; zero values read the whole file.
type ReadFileOptions struct {
	From  int
	Lines int
}

// ReadFile returns the text of an in-scope memory file. Symlinks and paths
// outside the memory convention are rejected.
func (m *Manager) ReadFile(relPath string, opts ReadFileOptions) (string, string, error) {
	scope, err := LoadScope(m.root)
	if err != nil {
		return "", "", err
	}
	raw := strings.TrimSpace(relPath)
	if raw == "" {
		return "", "", fmt.Errorf("path required")
	}
	rel, err := scope.Rel(raw)
	if err != nil {
		return "", "", err
	}
	if !scope.Contains(rel) {
		return "", "", fmt.Errorf("%w: %s", ErrPathOutsideScope, rel)
	}

	abs := filepath.Join(scope.Root(), filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if err != nil {
		return "", "", err
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("%w: %s is not a regular file", ErrPathOutsideScope, rel)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", err
	}

	content := string(data)
	if opts.From <= 0 && opts.Lines <= 0 {
		return content, rel, nil
	}
	lines := strings.Split(content, "\n")
	start := max(opts.From, 1)
	count := opts.Lines
	if count <= 0 {
		count = len(lines)
	}
	from := min(start-1, len(lines))
	to := min(from+count, len(lines))
	return strings.Join(lines[from:to], "\n"), rel, nil
}

// ---------- Status ----------

// Status describes the memory subsystem.
type Status struct {
	Workspace     string     `json:"workspace"`
	Provider      string     `json:"provider"`
	Model         string     `json:"model"`
	Dimensions    int        `json:"dimensions,omitempty"`
	CacheEnabled  bool       `json:"cache_enabled"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	ChunkMaxChars int        `json:"chunk_max_chars"`
	StoreStats
}

// Status returns counts and configuration.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st, err := m.store.Stats(ctx)
	out := Status{
		Workspace:     m.root,
		Provider:      m.provider.ID(),
		Model:         m.provider.Model(),
		Dimensions:    providerDims(m.provider),
		CacheEnabled:  m.cacheEnabled,
		ChunkMaxChars: m.chunkMaxChars,
		StoreStats:    st,
	}
	m.mu.Lock()
	out.LastError = m.lastError
	if !m.lastSync.IsZero() {
		t := m.lastSync
		out.LastSync = &t
	}
	m.mu.Unlock()
	return out, err
}

// PruneCache trims the embedding cache to maxEntries.
func (m *Manager) PruneCache(ctx context.Context, maxEntries int) (int64, error) {
	n, err := m.store.PruneEmbeddingCache(ctx, maxEntries)
	if err != nil {
		m.recordError(err)
		return 0, err
	}
	if n > 0 {
		m.logger.Info("embedding cache pruned", "removed", n, "max_entries", maxEntries)
	}
	return n, nil
}

// Snippet truncates text for tool output.
func Snippet(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= snippetMaxChars {
		return text
	}
	return string(r[:snippetMaxChars]) + "..."
}
