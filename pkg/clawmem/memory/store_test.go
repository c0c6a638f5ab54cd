package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "memory.db"), logger)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testChunk(path, source, model string, start int, text string, emb []float32) Chunk {
	return Chunk{
		ID:        ChunkID(path, start, start, model),
		Path:      path,
		Source:    source,
		StartLine: start,
		EndLine:   start,
		Model:     model,
		Text:      text,
		Embedding: emb,
	}
}

func TestStore_ReplaceFileChunksAndSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	rec := FileRecord{Path: "memory/notes.md", Source: SourceMemory, Hash: "h1", ModTime: time.Now()}
	chunks := []Chunk{
		testChunk(rec.Path, SourceMemory, "m1", 1, "the invoice is due on friday", []float32{1, 0, 0}),
		testChunk(rec.Path, SourceMemory, "m1", 2, "dentist appointment next week", []float32{0, 1, 0}),
	}
	if err := s.ReplaceFileChunks(ctx, rec, "m1", chunks); err != nil {
		t.Fatalf("ReplaceFileChunks: %v", err)
	}

	hash, ok, err := s.GetFileHash(ctx, rec.Path, SourceMemory)
	if err != nil || !ok || hash != "h1" {
		t.Fatalf("GetFileHash = %q, %v, %v", hash, ok, err)
	}

	lex, err := s.SearchFTS(ctx, ExpandQuery("invoice").Expanded, "m1", 10)
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(lex) != 1 || lex[0].ID != chunks[0].ID {
		t.Fatalf("SearchFTS = %+v, want the invoice chunk", lex)
	}
	if math.Abs(lex[0].Score-1) > 1e-9 {
		t.Errorf("best lexical score = %v, want 1", lex[0].Score)
	}

	vec, err := s.SearchVector(ctx, []float32{1, 0, 0}, "m1", 10)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(vec) != 2 || vec[0].ID != chunks[0].ID {
		t.Fatalf("SearchVector = %+v", vec)
	}
	if math.Abs(vec[0].Score-1) > 1e-6 {
		t.Errorf("exact match score = %v, want 1", vec[0].Score)
	}
	if vec[1].Score >= vec[0].Score {
		t.Errorf("farther chunk scored %v >= %v", vec[1].Score, vec[0].Score)
	}
}

func TestStore_ModelIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	path := "MEMORY.md"
	rec := FileRecord{Path: path, Source: SourceMemory, Hash: "h"}
	if err := s.ReplaceFileChunks(ctx, rec, "m1", []Chunk{
		testChunk(path, SourceMemory, "m1", 1, "kubernetes cluster upgrade", []float32{1, 0}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceFileChunks(ctx, rec, "m2", []Chunk{
		testChunk(path, SourceMemory, "m2", 1, "kubernetes cluster upgrade", []float32{1, 0, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	lex, err := s.SearchFTS(ctx, "kubernetes", "m1", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range lex {
		if r.Model != "m1" {
			t.Errorf("SearchFTS(m1) returned a %s chunk", r.Model)
		}
	}
	if len(lex) != 1 {
		t.Errorf("SearchFTS(m1) returned %d results, want 1", len(lex))
	}

	vec, err := s.SearchVector(ctx, []float32{1, 0, 0}, "m2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 1 || vec[0].Model != "m2" {
		t.Errorf("SearchVector(m2) = %+v", vec)
	}

	if err := s.DeleteChunksByPath(ctx, path, SourceMemory, "m1"); err != nil {
		t.Fatal(err)
	}
	left, err := s.GetChunks(ctx, path, SourceMemory, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Errorf("deleting m1 chunks removed m2 chunks: %d left", len(left))
	}
	gone, _ := s.GetChunks(ctx, path, SourceMemory, "m1")
	if len(gone) != 0 {
		t.Errorf("m1 chunks survived delete: %d", len(gone))
	}
}

func TestStore_SearchVectorSharedDims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	// Two models with the same dimension share one vector table. A crowd of
	// model-a chunks closer to the query must not hide the model-b chunk.
	var crowd []Chunk
	for i := 1; i <= 50; i++ {
		crowd = append(crowd, testChunk("memory/a.md", SourceMemory, "model-a", i, "alpha", []float32{1, 0, 0, 0}))
	}
	if err := s.ReplaceFileChunks(ctx, FileRecord{Path: "memory/a.md", Source: SourceMemory, Hash: "a"}, "model-a", crowd); err != nil {
		t.Fatal(err)
	}
	only := testChunk("memory/b.md", SourceMemory, "model-b", 1, "beta", []float32{0, 1, 0, 0})
	if err := s.ReplaceFileChunks(ctx, FileRecord{Path: "memory/b.md", Source: SourceMemory, Hash: "b"}, "model-b", []Chunk{only}); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, "model-b", 6)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(got) != 1 || got[0].ID != only.ID {
		t.Fatalf("SearchVector(model-b) = %+v, want the model-b chunk", got)
	}

	if s.vecAvailable {
		s.mu.Lock()
		knn, err := s.searchVec0Locked(ctx, []float32{1, 0, 0, 0}, "model-b", 6)
		s.mu.Unlock()
		if err != nil {
			t.Fatalf("searchVec0Locked: %v", err)
		}
		if len(knn) != 1 || knn[0].Model != "model-b" {
			t.Errorf("vec0 KNN(model-b) = %+v", knn)
		}
	}

	a, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, "model-a", 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 6 {
		t.Errorf("SearchVector(model-a) returned %d results, want 6", len(a))
	}
	for _, r := range a {
		if r.Model != "model-a" {
			t.Errorf("SearchVector(model-a) returned a %s chunk", r.Model)
		}
	}
}

func TestStore_DeleteFileScopedBySource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	for _, f := range []struct{ path, source string }{
		{"memory/trip.md", SourceMemory},
		{"sessions/trip.md", SourceSession},
	} {
		rec := FileRecord{Path: f.path, Source: f.source, Hash: f.source}
		if err := s.ReplaceFileChunks(ctx, rec, "m", []Chunk{
			testChunk(f.path, f.source, "m", 1, "lisbon flight", nil),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Wrong source: nothing happens.
	if err := s.DeleteFile(ctx, "memory/trip.md", SourceSession); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetFileHash(ctx, "memory/trip.md", SourceMemory); !ok {
		t.Fatal("DeleteFile with another source removed the memory record")
	}

	if err := s.DeleteFile(ctx, "memory/trip.md", SourceMemory); err != nil {
		t.Fatal(err)
	}
	files, err := s.ListFiles(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Source != SourceSession {
		t.Errorf("ListFiles after delete = %+v", files)
	}
	left, err := s.GetChunks(ctx, "sessions/trip.md", SourceSession, "m")
	if err != nil || len(left) != 1 {
		t.Errorf("session chunks after memory delete = %d, %v", len(left), err)
	}
	gone, _ := s.GetChunks(ctx, "memory/trip.md", SourceMemory, "m")
	if len(gone) != 0 {
		t.Errorf("memory chunks survived DeleteFile: %d", len(gone))
	}
}

func TestStore_EmbeddingCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	key := CacheKey{Provider: "openai", Model: "m", ProviderKey: "k"}
	if err := s.PutCachedEmbeddings(ctx, key, map[string][]float32{
		"h1": {0.1, 0.2},
		"h2": {0.3, 0.4},
	}); err != nil {
		t.Fatalf("PutCachedEmbeddings: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (provider, model, provider_key, hash, embedding, dims, updated_at)
		VALUES (?, ?, ?, 'bad', '{not json', 0, 0)`, key.Provider, key.Model, key.ProviderKey); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCachedEmbeddings(ctx, key, []string{"h1", "h2", "bad", "missing"})
	if err != nil {
		t.Fatalf("GetCachedEmbeddings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d hits, want 2 (bad JSON is a miss)", len(got))
	}
	assertFloat32Slice(t, got["h1"], []float32{0.1, 0.2})

	other, err := s.GetCachedEmbeddings(ctx, CacheKey{Provider: "openai", Model: "other", ProviderKey: "k"}, []string{"h1"})
	if err != nil || len(other) != 0 {
		t.Errorf("cache leaked across models: %v, %v", other, err)
	}

	removed, err := s.PruneEmbeddingCache(ctx, 1)
	if err != nil {
		t.Fatalf("PruneEmbeddingCache: %v", err)
	}
	if removed != 2 {
		t.Errorf("pruned %d rows, want 2", removed)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.CacheEntries != 1 {
		t.Errorf("cache entries = %d, want 1", st.CacheEntries)
	}
}

func TestStore_Sessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	sess := NewSession("telegram", "42")
	sess.Title = "Trip planning"
	sess.Entries = []ConversationEntry{
		{UserMessage: "book a flight to Lisbon", AssistantResponse: "done", Timestamp: time.Now()},
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	loaded, err := s.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.Title != "Trip planning" || len(loaded.Entries) != 1 || loaded.ChatID != "42" {
		t.Errorf("LoadSession = %+v", loaded)
	}

	list, err := s.ListSessions(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].EntryCount != 1 {
		t.Errorf("ListSessions = %+v", list)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadSession(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("LoadSession after delete error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_Meta(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.GetMeta(ctx, "missing"); ok || err != nil {
		t.Errorf("GetMeta(missing) = %v, %v", ok, err)
	}
	if err := s.SetMeta(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMeta(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetMeta(ctx, "k")
	if err != nil || !ok || v != "v2" {
		t.Errorf("GetMeta = %q, %v, %v", v, ok, err)
	}
}
