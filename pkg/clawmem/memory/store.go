// Package memory – store.go implements the persistent chunk store.
// Every chunk lives in three views kept consistent by single transactions:
// the chunks table, the chunks_fts FTS5 table and a vec0 table per vector
// dimensionality. When FTS5 or sqlite-vec are unavailable the store degrades
// to LIKE matching and an in-process L2 scan respectively.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/jholhewres/clawmem/pkg/clawmem/database/backends"
)

const (
	// Source tags.
	SourceMemory  = "memory"
	SourceSession = "session"

	ftsTable          = "chunks_fts"
	vecTablePrefix    = "chunks_vec_"
	metaVectorDimsKey = "vector_dims:"
	vecLayout         = "partitioned"
	maxKNN            = 4096
	cacheLookupBatch  = 400
)

// FileRecord tracks one indexed source file.
type FileRecord struct {
	Path    string
	Source  string
	Hash    string
	ModTime time.Time
	Size    int64
}

// Chunk is a stored slice of a document under one embedding model.
type Chunk struct {
	ID        string
	Path      string
	Source    string
	StartLine int
	EndLine   int
	Hash      string
	Model     string
	Text      string
	Embedding []float32
	UpdatedAt time.Time
}

// SearchResult is a scored chunk returned by the retrievers.
type SearchResult struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Source    string  `json:"source"`
	Model     string  `json:"model"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// StoreStats summarizes the store contents.
type StoreStats struct {
	Files        int            `json:"files"`
	Chunks       int            `json:"chunks"`
	BySource     map[string]int `json:"by_source"`
	ByModel      map[string]int `json:"by_model"`
	CacheEntries int            `json:"cache_entries"`
	VectorDims   []int          `json:"vector_dims"`
	FTS          bool           `json:"fts"`
	Vector       bool           `json:"vector"`
}

// Store is the SQLite-backed chunk store. All operations are serialized by
// a single mutex over a single connection.
type Store struct {
	backend *backends.SQLiteBackend
	db      *sql.DB
	logger  *slog.Logger

	mu           sync.Mutex
	ftsAvailable bool
	vecAvailable bool
	vecDims      map[int]bool
	now          func() time.Time
}

// storeMigrations is the ordered schema of the memory database.
var storeMigrations = []backends.Migration{
	{
		Version: 1,
		Name:    "core",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS meta (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS files (
				path   TEXT NOT NULL,
				source TEXT NOT NULL DEFAULT 'memory',
				hash   TEXT NOT NULL,
				mtime  INTEGER NOT NULL DEFAULT 0,
				size   INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (path, source)
			)`,
			`CREATE TABLE IF NOT EXISTS chunks (
				id         TEXT PRIMARY KEY,
				path       TEXT NOT NULL,
				source     TEXT NOT NULL DEFAULT 'memory',
				start_line INTEGER NOT NULL,
				end_line   INTEGER NOT NULL,
				hash       TEXT NOT NULL,
				model      TEXT NOT NULL DEFAULT '',
				text       TEXT NOT NULL,
				embedding  TEXT NOT NULL DEFAULT '',
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path, source, model)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_model ON chunks(model)`,
			`CREATE TABLE IF NOT EXISTS embedding_cache (
				provider     TEXT NOT NULL,
				model        TEXT NOT NULL,
				provider_key TEXT NOT NULL,
				hash         TEXT NOT NULL,
				embedding    TEXT NOT NULL,
				dims         INTEGER NOT NULL DEFAULT 0,
				updated_at   INTEGER NOT NULL,
				PRIMARY KEY (provider, model, provider_key, hash)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_embedding_cache_updated ON embedding_cache(updated_at)`,
		},
	},
	{
		Version: 2,
		Name:    "sessions",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id         TEXT PRIMARY KEY,
				title      TEXT NOT NULL DEFAULT '',
				channel    TEXT NOT NULL DEFAULT '',
				chat_id    TEXT NOT NULL DEFAULT '',
				messages   TEXT NOT NULL DEFAULT '[]',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		},
	},
}

// OpenStore opens (or creates) the memory database at path.
func OpenStore(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := backends.OpenSQLite(backends.DefaultSQLiteConfig(path))
	if err != nil {
		return nil, storageErr("open", err)
	}

	s := &Store{
		backend: backend,
		db:      backend.DB,
		logger:  logger,
		vecDims: make(map[int]bool),
		now:     time.Now,
	}
	if err := s.init(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	applied, err := s.backend.Migrator.Migrate(ctx, storeMigrations)
	if err != nil {
		return storageErr("migrate", err)
	}
	if len(applied) > 0 {
		s.logger.Debug("memory schema migrated", "versions", applied)
	}

	_, err = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS `+ftsTable+` USING fts5(
		text,
		id UNINDEXED,
		path UNINDEXED,
		source UNINDEXED,
		model UNINDEXED,
		start_line UNINDEXED,
		end_line UNINDEXED,
		tokenize='porter unicode61'
	)`)
	switch {
	case err == nil:
		s.ftsAvailable = true
	case backends.IsMissingModule(err):
		s.logger.Warn("FTS5 not available, falling back to LIKE search")
	default:
		return storageErr("create fts table", err)
	}

	s.vecAvailable = s.backend.Health.VecVersion(ctx) != ""
	if !s.vecAvailable {
		s.logger.Warn("sqlite-vec not available, falling back to in-process vector scan")
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta WHERE key LIKE ?`, metaVectorDimsKey+"%")
	if err != nil {
		return storageErr("load vector dims", err)
	}
	var stale []int
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return storageErr("load vector dims", err)
		}
		d, err := strconv.Atoi(strings.TrimPrefix(key, metaVectorDimsKey))
		if err != nil || d <= 0 {
			continue
		}
		if value == vecLayout {
			s.vecDims[d] = true
		} else {
			stale = append(stale, d)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storageErr("load vector dims", err)
	}

	// Tables without the model partition are rebuilt from the chunks table.
	for _, d := range stale {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+vecTableName(d)); err != nil {
			return storageErr("rebuild vector index", err)
		}
		if err := s.ensureVectorIndexLocked(ctx, d); err != nil {
			return err
		}
		s.logger.Info("vector index rebuilt", "dims", d)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

// Backend exposes the underlying database backend (health, migrations).
func (s *Store) Backend() *backends.SQLiteBackend { return s.backend }

// FTSAvailable reports whether FTS5 is in use.
func (s *Store) FTSAvailable() bool { return s.ftsAvailable }

// VectorAvailable reports whether sqlite-vec is in use.
func (s *Store) VectorAvailable() bool { return s.vecAvailable }

// ---------- Meta ----------

// GetMeta returns a metadata value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get meta", err)
	}
	return value, true, nil
}

// SetMeta upserts a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageErr("set meta", setMeta(ctx, s.db, key, value))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMeta(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// ---------- Files ----------

// GetFileHash returns the stored content hash for (path, source).
func (s *Store) GetFileHash(ctx context.Context, path, source string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM files WHERE path = ? AND source = ?`, path, source).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get file hash", err)
	}
	return hash, true, nil
}

// HasChunksForPath reports whether chunks exist for path/source under model.
func (s *Store) HasChunksForPath(ctx context.Context, path, source, model string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE path = ? AND source = ? AND model = ? LIMIT 1`,
		path, source, model).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("has chunks", err)
	}
	return true, nil
}

// UpdateFileInfo upserts a file record.
func (s *Store) UpdateFileInfo(ctx context.Context, rec FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageErr("update file info", upsertFile(ctx, s.db, rec))
}

func upsertFile(ctx context.Context, db execer, rec FileRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO files (path, source, hash, mtime, size) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path, source) DO UPDATE SET
			hash = excluded.hash, mtime = excluded.mtime, size = excluded.size`,
		rec.Path, rec.Source, rec.Hash, rec.ModTime.UnixMilli(), rec.Size)
	return err
}

// ListFiles returns the file records of a source, or all when source is "".
func (s *Store) ListFiles(ctx context.Context, source string) ([]FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT path, source, hash, mtime, size FROM files`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list files", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var rec FileRecord
		var mtime int64
		if err := rows.Scan(&rec.Path, &rec.Source, &rec.Hash, &mtime, &rec.Size); err != nil {
			return nil, storageErr("list files", err)
		}
		rec.ModTime = time.UnixMilli(mtime)
		out = append(out, rec)
	}
	return out, storageErr("list files", rows.Err())
}

// DeleteFile removes a file record and its chunks under every model.
func (s *Store) DeleteFile(ctx context.Context, path, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete file", err)
	}
	defer tx.Rollback()

	if err := s.deleteChunksTx(ctx, tx, path, source, nil); err != nil {
		return storageErr("delete file", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ? AND source = ?`, path, source); err != nil {
		return storageErr("delete file", err)
	}
	return storageErr("delete file", tx.Commit())
}

// ---------- Chunks ----------

// DeleteChunksByPath removes the chunks of path/source under model from all
// three views. Chunks of other models or sources are untouched.
func (s *Store) DeleteChunksByPath(ctx context.Context, path, source, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete chunks", err)
	}
	defer tx.Rollback()

	if err := s.deleteChunksTx(ctx, tx, path, source, &model); err != nil {
		return storageErr("delete chunks", err)
	}
	return storageErr("delete chunks", tx.Commit())
}

// InsertChunk upserts one chunk into all three views atomically.
func (s *Store) InsertChunk(ctx context.Context, c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureVectorIndexLocked(ctx, len(c.Embedding)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("insert chunk", err)
	}
	defer tx.Rollback()

	if err := s.insertChunkTx(ctx, tx, c); err != nil {
		return storageErr("insert chunk", err)
	}
	return storageErr("insert chunk", tx.Commit())
}

// ReplaceFileChunks deletes the chunks of rec under model, inserts chunks
// and records rec in one transaction. The file hash only changes if every
// chunk was written.
func (s *Store) ReplaceFileChunks(ctx context.Context, rec FileRecord, model string, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if err := s.ensureVectorIndexLocked(ctx, len(c.Embedding)); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("replace chunks", err)
	}
	defer tx.Rollback()

	if err := s.deleteChunksTx(ctx, tx, rec.Path, rec.Source, &model); err != nil {
		return storageErr("replace chunks", err)
	}
	for _, c := range chunks {
		if err := s.insertChunkTx(ctx, tx, c); err != nil {
			return storageErr("replace chunks", fmt.Errorf("chunk %d-%d: %w", c.StartLine, c.EndLine, err))
		}
	}
	if err := upsertFile(ctx, tx, rec); err != nil {
		return storageErr("replace chunks", err)
	}
	return storageErr("replace chunks", tx.Commit())
}

// deleteChunksTx removes chunks for path/source, restricted to *model when
// model is non-nil.
func (s *Store) deleteChunksTx(ctx context.Context, tx *sql.Tx, path, source string, model *string) error {
	query := `SELECT id FROM chunks WHERE path = ? AND source = ?`
	args := []any{path, source}
	if model != nil {
		query += ` AND model = ?`
		args = append(args, *model)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.deleteDerivedTx(ctx, tx, id); err != nil {
			return err
		}
	}

	delQuery := `DELETE FROM chunks WHERE path = ? AND source = ?`
	if model != nil {
		delQuery += ` AND model = ?`
	}
	_, err = tx.ExecContext(ctx, delQuery, args...)
	return err
}

// deleteDerivedTx removes a chunk id from the FTS and vector views.
func (s *Store) deleteDerivedTx(ctx context.Context, tx *sql.Tx, id string) error {
	if s.ftsAvailable {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+ftsTable+` WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete fts row: %w", err)
		}
	}
	for dims := range s.vecDims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+vecTableName(dims)+` WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete vector row: %w", err)
		}
	}
	return nil
}

func (s *Store) insertChunkTx(ctx context.Context, tx *sql.Tx, c Chunk) error {
	if c.ID == "" {
		c.ID = ChunkID(c.Path, c.StartLine, c.EndLine, c.Model)
	}
	if c.Source == "" {
		c.Source = SourceMemory
	}
	if c.Hash == "" {
		c.Hash = hashText(c.Text)
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	emb, err := encodeEmbedding(c.Embedding)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks (id, path, source, start_line, end_line, hash, model, text, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path, source = excluded.source,
			start_line = excluded.start_line, end_line = excluded.end_line,
			hash = excluded.hash, model = excluded.model, text = excluded.text,
			embedding = excluded.embedding, updated_at = excluded.updated_at`,
		c.ID, c.Path, c.Source, c.StartLine, c.EndLine, c.Hash, c.Model, c.Text, emb, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert chunk row: %w", err)
	}

	if err := s.deleteDerivedTx(ctx, tx, c.ID); err != nil {
		return err
	}

	if s.ftsAvailable {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO `+ftsTable+` (text, id, path, source, model, start_line, end_line)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			spaceCJK(c.Text), c.ID, c.Path, c.Source, c.Model, c.StartLine, c.EndLine)
		if err != nil {
			return fmt.Errorf("insert fts row: %w", err)
		}
	}

	if s.vecAvailable && len(c.Embedding) > 0 {
		blob, err := sqlite_vec.SerializeFloat32(c.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO `+vecTableName(len(c.Embedding))+` (id, model, embedding) VALUES (?, ?, ?)`,
			c.ID, c.Model, blob)
		if err != nil {
			return fmt.Errorf("insert vector row: %w", err)
		}
	}
	return nil
}

// EnsureVectorIndex creates the vec0 table for dims if needed. It is
// idempotent and a no-op without sqlite-vec.
func (s *Store) EnsureVectorIndex(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureVectorIndexLocked(ctx, dims)
}

func (s *Store) ensureVectorIndexLocked(ctx context.Context, dims int) error {
	if dims <= 0 || !s.vecAvailable || s.vecDims[dims] {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("ensure vector index", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(id TEXT PRIMARY KEY, model TEXT PARTITION KEY, embedding FLOAT[%d])`,
		vecTableName(dims), dims))
	if err != nil {
		return storageErr("ensure vector index", err)
	}
	n, err := backfillVectorsTx(ctx, tx, dims)
	if err != nil {
		return storageErr("ensure vector index", err)
	}
	if err := setMeta(ctx, tx, metaVectorDimsKey+strconv.Itoa(dims), vecLayout); err != nil {
		return storageErr("ensure vector index", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("ensure vector index", err)
	}
	s.vecDims[dims] = true
	s.logger.Debug("vector index created", "dims", dims, "backfilled", n)
	return nil
}

// backfillVectorsTx copies stored embeddings of length dims into the new
// vec0 table so chunks written before the table existed stay searchable.
func backfillVectorsTx(ctx context.Context, tx *sql.Tx, dims int) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, model, embedding FROM chunks WHERE embedding != ''`)
	if err != nil {
		return 0, err
	}
	type vecRow struct {
		id, model string
		blob      []byte
	}
	var pending []vecRow
	for rows.Next() {
		var id, model, raw string
		if err := rows.Scan(&id, &model, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		vec, err := decodeEmbedding(raw)
		if err != nil || len(vec) != dims {
			continue
		}
		blob, err := sqlite_vec.SerializeFloat32(vec)
		if err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, vecRow{id: id, model: model, blob: blob})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range pending {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+vecTableName(dims)+` (id, model, embedding) VALUES (?, ?, ?)`, r.id, r.model, r.blob)
		if err != nil {
			return 0, fmt.Errorf("backfill %s: %w", r.id, err)
		}
	}
	return len(pending), nil
}

func vecTableName(dims int) string {
	return vecTablePrefix + strconv.Itoa(dims)
}

// GetChunks returns the chunks of path/source under model ordered by line.
func (s *Store) GetChunks(ctx context.Context, path, source, model string) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, source, start_line, end_line, hash, model, text, embedding, updated_at
		FROM chunks WHERE path = ? AND source = ? AND model = ?
		ORDER BY start_line`, path, source, model)
	if err != nil {
		return nil, storageErr("get chunks", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var emb string
		var updated int64
		if err := rows.Scan(&c.ID, &c.Path, &c.Source, &c.StartLine, &c.EndLine,
			&c.Hash, &c.Model, &c.Text, &emb, &updated); err != nil {
			return nil, storageErr("get chunks", err)
		}
		if vec, err := decodeEmbedding(emb); err == nil {
			c.Embedding = vec
		}
		c.UpdatedAt = time.UnixMilli(updated)
		out = append(out, c)
	}
	return out, storageErr("get chunks", rows.Err())
}

// ---------- Search ----------

// SearchFTS runs a lexical search over rows whose model is model or unset.
// The best match scores 1.0; others score 1/(1+rank) with rank measured as
// the bm25 distance from the best match.
func (s *Store) SearchFTS(ctx context.Context, expanded, model string, limit int) ([]SearchResult, error) {
	if limit <= 0 || strings.TrimSpace(expanded) == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ftsAvailable {
		return s.searchLikeLocked(ctx, expanded, model, limit)
	}

	match := buildFTSMatch(expanded)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.source, c.model, c.start_line, c.end_line, c.text, bm25(`+ftsTable+`) AS rank
		FROM `+ftsTable+`
		JOIN chunks c ON c.id = `+ftsTable+`.id
		WHERE `+ftsTable+` MATCH ?
		  AND (`+ftsTable+`.model = ? OR `+ftsTable+`.model = '' OR `+ftsTable+`.model IS NULL)
		ORDER BY rank
		LIMIT ?`, match, model, limit)
	if err != nil {
		return nil, storageErr("search fts", err)
	}
	defer rows.Close()

	var results []SearchResult
	var ranks []float64
	for rows.Next() {
		var r SearchResult
		var rank float64
		if err := rows.Scan(&r.ID, &r.Path, &r.Source, &r.Model, &r.StartLine, &r.EndLine, &r.Text, &rank); err != nil {
			return nil, storageErr("search fts", err)
		}
		results = append(results, r)
		ranks = append(ranks, rank)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search fts", err)
	}

	if len(ranks) > 0 {
		best := ranks[0]
		for i := range results {
			results[i].Score = rankToScore(ranks[i] - best)
		}
	}
	return results, nil
}

// searchLikeLocked is the lexical fallback without FTS5. A row scores the
// fraction of query terms it contains.
func (s *Store) searchLikeLocked(ctx context.Context, expanded, model string, limit int) ([]SearchResult, error) {
	terms := likeTerms(expanded)
	if len(terms) == 0 {
		return nil, nil
	}

	conds := make([]string, len(terms))
	args := []any{model}
	for i, t := range terms {
		conds[i] = `LOWER(text) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(t)+"%")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, source, model, start_line, end_line, text
		FROM chunks
		WHERE (model = ? OR model = '')
		  AND (`+strings.Join(conds, " OR ")+`)`, args...)
	if err != nil {
		return nil, storageErr("search like", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Path, &r.Source, &r.Model, &r.StartLine, &r.EndLine, &r.Text); err != nil {
			return nil, storageErr("search like", err)
		}
		lower := strings.ToLower(r.Text)
		matched := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				matched++
			}
		}
		r.Score = float64(matched) / float64(len(terms))
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search like", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchVector returns the nearest chunks of model to vec, scored 1/(1+distance).
func (s *Store) SearchVector(ctx context.Context, vec []float32, model string, limit int) ([]SearchResult, error) {
	if limit <= 0 || len(vec) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vecAvailable && s.vecDims[len(vec)] {
		results, err := s.searchVec0Locked(ctx, vec, model, limit)
		if err != nil || len(results) >= limit {
			return results, err
		}
		// Short result: the model either has fewer chunks than limit or some
		// of them are missing from the index. The scan answers both exactly.
	}
	return s.searchScanLocked(ctx, vec, model, limit)
}

func (s *Store) searchVec0Locked(ctx context.Context, vec []float32, model string, limit int) ([]SearchResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, storageErr("search vector", err)
	}
	k := limit
	if k > maxKNN {
		k = maxKNN
	}

	// The model partition restricts the KNN itself, so models sharing a
	// dimension never crowd each other out of the top k.
	rows, err := s.db.QueryContext(ctx, `
		WITH knn AS (
			SELECT id, distance FROM `+vecTableName(len(vec))+`
			WHERE embedding MATCH ? AND k = ? AND model = ?
		)
		SELECT c.id, c.path, c.source, c.model, c.start_line, c.end_line, c.text, knn.distance
		FROM knn JOIN chunks c ON c.id = knn.id
		ORDER BY knn.distance
		LIMIT ?`, blob, k, model, limit)
	if err != nil {
		return nil, storageErr("search vector", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var dist float64
		if err := rows.Scan(&r.ID, &r.Path, &r.Source, &r.Model, &r.StartLine, &r.EndLine, &r.Text, &dist); err != nil {
			return nil, storageErr("search vector", err)
		}
		r.Score = distanceToScore(dist)
		results = append(results, r)
	}
	return results, storageErr("search vector", rows.Err())
}

// searchScanLocked computes L2 distances in process over stored embeddings.
func (s *Store) searchScanLocked(ctx context.Context, vec []float32, model string, limit int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, source, model, start_line, end_line, text, embedding
		FROM chunks WHERE model = ? AND embedding != ''`, model)
	if err != nil {
		return nil, storageErr("search vector", err)
	}
	defer rows.Close()

	type scored struct {
		r    SearchResult
		dist float64
	}
	var cands []scored
	for rows.Next() {
		var r SearchResult
		var raw string
		if err := rows.Scan(&r.ID, &r.Path, &r.Source, &r.Model, &r.StartLine, &r.EndLine, &r.Text, &raw); err != nil {
			return nil, storageErr("search vector", err)
		}
		emb, err := decodeEmbedding(raw)
		if err != nil || len(emb) != len(vec) {
			continue
		}
		cands = append(cands, scored{r: r, dist: l2Distance(vec, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search vector", err)
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > limit {
		cands = cands[:limit]
	}
	results := make([]SearchResult, len(cands))
	for i, c := range cands {
		c.r.Score = distanceToScore(c.dist)
		results[i] = c.r
	}
	return results, nil
}

// ---------- Embedding cache ----------

// CacheKey scopes embedding cache rows.
type CacheKey struct {
	Provider    string
	Model       string
	ProviderKey string
}

// GetCachedEmbeddings looks up vectors by content hash. Rows that fail to
// parse are treated as misses.
func (s *Store) GetCachedEmbeddings(ctx context.Context, key CacheKey, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	if len(hashes) == 0 {
		return out, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for start := 0; start < len(hashes); start += cacheLookupBatch {
		end := min(start+cacheLookupBatch, len(hashes))
		batch := hashes[start:end]

		args := []any{key.Provider, key.Model, key.ProviderKey}
		for _, h := range batch {
			args = append(args, h)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		rows, err := s.db.QueryContext(ctx, `
			SELECT hash, embedding FROM embedding_cache
			WHERE provider = ? AND model = ? AND provider_key = ? AND hash IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, storageErr("read embedding cache", err)
		}
		for rows.Next() {
			var hash, raw string
			if err := rows.Scan(&hash, &raw); err != nil {
				rows.Close()
				return nil, storageErr("read embedding cache", err)
			}
			vec, err := decodeEmbedding(raw)
			if err != nil || len(vec) == 0 {
				s.logger.Debug("ignoring unreadable cached embedding", "hash", hash, "error", err)
				continue
			}
			out[hash] = vec
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, storageErr("read embedding cache", err)
		}
	}
	return out, nil
}

// PutCachedEmbeddings stores vectors by content hash.
func (s *Store) PutCachedEmbeddings(ctx context.Context, key CacheKey, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("write embedding cache", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	for hash, vec := range vectors {
		raw, err := encodeEmbedding(vec)
		if err != nil {
			return storageErr("write embedding cache", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO embedding_cache (provider, model, provider_key, hash, embedding, dims, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(provider, model, provider_key, hash) DO UPDATE SET
				embedding = excluded.embedding, dims = excluded.dims, updated_at = excluded.updated_at`,
			key.Provider, key.Model, key.ProviderKey, hash, raw, len(vec), now)
		if err != nil {
			return storageErr("write embedding cache", err)
		}
	}
	return storageErr("write embedding cache", tx.Commit())
}

// PruneEmbeddingCache keeps the newest maxEntries rows and returns how many
// were removed.
func (s *Store) PruneEmbeddingCache(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM embedding_cache WHERE rowid IN (
			SELECT rowid FROM embedding_cache ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, maxEntries)
	if err != nil {
		return 0, storageErr("prune embedding cache", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---------- Stats ----------

// Stats returns counts per source and model.
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := StoreStats{
		BySource: make(map[string]int),
		ByModel:  make(map[string]int),
		FTS:      s.ftsAvailable,
		Vector:   s.vecAvailable,
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&st.Files); err != nil {
		return st, storageErr("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, storageErr("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&st.CacheEntries); err != nil {
		return st, storageErr("stats", err)
	}

	group := func(col string, into map[string]int) error {
		rows, err := s.db.QueryContext(ctx, `SELECT `+col+`, COUNT(*) FROM chunks GROUP BY `+col)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			var n int
			if err := rows.Scan(&k, &n); err != nil {
				return err
			}
			into[k] = n
		}
		return rows.Err()
	}
	if err := group("source", st.BySource); err != nil {
		return st, storageErr("stats", err)
	}
	if err := group("model", st.ByModel); err != nil {
		return st, storageErr("stats", err)
	}

	for d := range s.vecDims {
		st.VectorDims = append(st.VectorDims, d)
	}
	sort.Ints(st.VectorDims)
	return st, nil
}
