package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IndexOutcome reports what IndexFile did.
type IndexOutcome struct {
	Path    string `json:"path"`
	Skipped bool   `json:"skipped"`
	Chunks  int    `json:"chunks"`
	Embeds  int    `json:"embeds"`
	Cached  int    `json:"cached"`
}

// SyncReport summarizes a SyncWorkspace run.
type SyncReport struct {
	Files    int           `json:"files"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Retired  int           `json:"retired"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
}

// IndexFile (re)indexes one memory file. path may be absolute or relative to
// root. The file is skipped when its hash is unchanged and the chunks stored
// for the current model match its content; otherwise its chunks under the model are replaced
// together with the file record.
func (m *Manager) IndexFile(ctx context.Context, root, path string) (IndexOutcome, error) {
	scope, err := LoadScope(root)
	if err != nil {
		return IndexOutcome{}, err
	}
	rel, err := scope.Rel(path)
	if err != nil {
		return IndexOutcome{}, err
	}

	abs := filepath.Join(scope.Root(), filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return IndexOutcome{Path: rel}, fmt.Errorf("stat %s: %w", rel, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return IndexOutcome{Path: rel}, fmt.Errorf("read %s: %w", rel, err)
	}

	rec := FileRecord{
		Path:    rel,
		Source:  SourceMemory,
		Hash:    hashText(string(data)),
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}
	return m.indexContent(ctx, rec, string(data))
}

// WarmSession indexes the transcript of sess under the session source so
// past conversations are retrievable alongside memory files.
func (m *Manager) WarmSession(ctx context.Context, sess *Session) (IndexOutcome, error) {
	if sess == nil {
		return IndexOutcome{}, ErrSessionNotFound
	}
	content := sess.Transcript()
	rec := FileRecord{
		Path:    sess.TranscriptPath(),
		Source:  SourceSession,
		Hash:    hashText(content),
		ModTime: sess.UpdatedAt,
		Size:    int64(len(content)),
	}
	return m.indexContent(ctx, rec, content)
}

// WarmSessionByID loads a stored session and warms it.
func (m *Manager) WarmSessionByID(ctx context.Context, id string) (IndexOutcome, error) {
	sess, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return IndexOutcome{}, err
	}
	return m.WarmSession(ctx, sess)
}

func (m *Manager) indexContent(ctx context.Context, rec FileRecord, content string) (IndexOutcome, error) {
	out := IndexOutcome{Path: rec.Path}
	model := m.provider.Model()

	prev, ok, err := m.store.GetFileHash(ctx, rec.Path, rec.Source)
	if err != nil {
		return out, err
	}
	pieces := ChunkLines(content, m.chunkMaxChars)
	if ok && prev == rec.Hash {
		skip, err := m.upToDate(ctx, rec, model, pieces)
		if err != nil {
			return out, err
		}
		if skip {
			out.Skipped = true
			return out, nil
		}
	}

	vectors, stats, err := m.embedChunks(ctx, pieces)
	if err != nil {
		m.recordError(err)
		return out, err
	}

	now := m.now()
	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{
			ID:        ChunkID(rec.Path, p.StartLine, p.EndLine, model),
			Path:      rec.Path,
			Source:    rec.Source,
			StartLine: p.StartLine,
			EndLine:   p.EndLine,
			Hash:      p.Hash,
			Model:     model,
			Text:      p.Text,
			Embedding: vectors[i],
			UpdatedAt: now,
		}
	}

	if err := m.store.ReplaceFileChunks(ctx, rec, model, chunks); err != nil {
		m.recordError(err)
		return out, err
	}

	out.Chunks = len(chunks)
	out.Embeds = stats.embedded
	out.Cached = stats.cached
	m.logger.Debug("memory file indexed",
		"path", rec.Path, "source", rec.Source, "chunks", out.Chunks,
		"embedded", out.Embeds, "cached", out.Cached)
	return out, nil
}

// upToDate reports whether model's chunks for rec already reflect pieces.
// The file hash is shared by every model, so another model may have
// recorded it after this one last indexed.
func (m *Manager) upToDate(ctx context.Context, rec FileRecord, model string, pieces []TextChunk) (bool, error) {
	has, err := m.store.HasChunksForPath(ctx, rec.Path, rec.Source, model)
	if err != nil || !has {
		// An empty file legitimately has no chunks.
		return len(pieces) == 0 && err == nil, err
	}
	stored, err := m.store.GetChunks(ctx, rec.Path, rec.Source, model)
	if err != nil {
		return false, err
	}
	return sameChunks(stored, pieces), nil
}

func sameChunks(stored []Chunk, pieces []TextChunk) bool {
	if len(stored) != len(pieces) {
		return false
	}
	for i, p := range pieces {
		c := stored[i]
		if c.StartLine != p.StartLine || c.EndLine != p.EndLine || c.Hash != p.Hash {
			return false
		}
	}
	return true
}

type embedStats struct {
	embedded int
	cached   int
}

// embedChunks returns one vector per chunk. Cached vectors are reused; the
// misses go out in a single batch, or one call per chunk when the provider
// cannot batch.
func (m *Manager) embedChunks(ctx context.Context, pieces []TextChunk) ([][]float32, embedStats, error) {
	var stats embedStats
	vectors := make([][]float32, len(pieces))
	if len(pieces) == 0 || IsNullProvider(m.provider) {
		return vectors, stats, nil
	}

	key := CacheKey{Provider: m.provider.ID(), Model: m.provider.Model(), ProviderKey: ProviderKey(m.provider)}
	cached := map[string][]float32{}
	if m.cacheEnabled {
		hashes := make([]string, len(pieces))
		for i, p := range pieces {
			hashes[i] = p.Hash
		}
		hits, err := m.store.GetCachedEmbeddings(ctx, key, hashes)
		if err != nil {
			m.logger.Warn("embedding cache lookup failed", "error", err)
		} else {
			cached = hits
		}
	}

	var missIdx []int
	var missTexts []string
	for i, p := range pieces {
		if v, ok := cached[p.Hash]; ok {
			vectors[i] = v
			stats.cached++
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, p.Text)
	}
	if len(missIdx) == 0 {
		return vectors, stats, nil
	}

	fresh, err := m.provider.EmbedBatch(ctx, missTexts)
	switch {
	case errors.Is(err, ErrBatchUnsupported):
		fresh = make([][]float32, len(missTexts))
		for i, text := range missTexts {
			v, err := m.provider.EmbedQuery(ctx, text)
			if err != nil {
				return nil, stats, providerErr(m.provider.ID(), err)
			}
			fresh[i] = v
		}
	case err != nil:
		return nil, stats, providerErr(m.provider.ID(), err)
	}
	if len(fresh) != len(missTexts) {
		return nil, stats, providerErr(m.provider.ID(),
			fmt.Errorf("got %d embeddings for %d texts", len(fresh), len(missTexts)))
	}

	toCache := make(map[string][]float32, len(missIdx))
	for j, i := range missIdx {
		vectors[i] = fresh[j]
		if len(fresh[j]) > 0 {
			toCache[pieces[i].Hash] = fresh[j]
		}
	}
	stats.embedded = len(missIdx)

	if m.cacheEnabled && len(toCache) > 0 {
		if err := m.store.PutCachedEmbeddings(ctx, key, toCache); err != nil {
			m.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return vectors, stats, nil
}

// SyncWorkspace indexes every in-scope memory file under root and retires
// records of memory files that no longer exist or left scope. Per-file
// failures are logged and counted; they do not abort the run.
func (m *Manager) SyncWorkspace(ctx context.Context, root string) (SyncReport, error) {
	start := time.Now()
	var report SyncReport

	scope, err := LoadScope(root)
	if err != nil {
		return report, err
	}
	files, err := scope.ListFiles()
	if err != nil {
		return report, err
	}
	report.Files = len(files)

	live := make(map[string]bool, len(files))
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		live[rel] = true

		out, err := m.IndexFile(ctx, scope.Root(), rel)
		switch {
		case err != nil:
			report.Failed++
			m.logger.Warn("memory file index failed", "path", rel, "error", err)
		case out.Skipped:
			report.Skipped++
		default:
			report.Indexed++
			report.Chunks += out.Chunks
		}
		if m.progress != nil {
			m.progress(i+1, len(files), rel)
		}
	}

	known, err := m.store.ListFiles(ctx, SourceMemory)
	if err != nil {
		return report, err
	}
	for _, rec := range known {
		if live[rec.Path] {
			continue
		}
		if err := m.store.DeleteFile(ctx, rec.Path, rec.Source); err != nil {
			m.logger.Warn("stale memory file retire failed", "path", rec.Path, "error", err)
			continue
		}
		report.Retired++
	}

	report.Duration = time.Since(start)
	m.mu.Lock()
	m.lastSync = m.now()
	m.mu.Unlock()

	m.logger.Info("memory sync complete",
		"files", report.Files, "indexed", report.Indexed, "skipped", report.Skipped,
		"failed", report.Failed, "retired", report.Retired, "duration", report.Duration)
	return report, nil
}
