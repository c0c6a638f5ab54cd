package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// ---------- OpenAI-Compatible Provider Tests ----------

func TestOpenAIEmbedder(t *testing.T) {
	t.Parallel()

	srv := newMockOpenAIServer(t, "openai-model", [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
	})
	defer srv.Close()

	e := NewOpenAIEmbedder(EmbeddingConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "openai-model",
	})

	if e.ID() != "openai" {
		t.Errorf("ID() = %q, want %q", e.ID(), "openai")
	}
	if e.Model() != "openai-model" {
		t.Errorf("Model() = %q, want %q", e.Model(), "openai-model")
	}
	if e.Dimensions() != 1536 {
		t.Errorf("Dimensions() = %d, want 1536", e.Dimensions())
	}

	result, err := e.EmbedBatch(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("EmbedBatch() error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("EmbedBatch() returned %d embeddings, want 2", len(result))
	}
	assertFloat32Slice(t, result[0], []float32{0.1, 0.2, 0.3})
	assertFloat32Slice(t, result[1], []float32{0.4, 0.5, 0.6})
}

func TestOpenAIEmbedder_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(EmbeddingConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := e.EmbedQuery(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestVoyageEmbedder_InputType(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var inputTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer voyage-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Input     []string `json:"input"`
			InputType string   `json:"input_type"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		inputTypes = append(inputTypes, req.InputType)
		mu.Unlock()

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float64{float64(i), 1}, "index": i}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	e := NewVoyageEmbedder(EmbeddingConfig{APIKey: "voyage-key", BaseURL: srv.URL})
	if e.ID() != "voyage" || e.Model() != "voyage-3-lite" || e.Dimensions() != 1024 {
		t.Errorf("defaults = %s/%s/%d", e.ID(), e.Model(), e.Dimensions())
	}

	if _, err := e.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	docs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	assertFloat32Slice(t, docs[1], []float32{1, 1})

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(inputTypes, []string{"query", "document"}) {
		t.Errorf("input types = %v, want [query document]", inputTypes)
	}
}

func TestMistralEmbedder(t *testing.T) {
	t.Parallel()

	srv := newMockOpenAIServer(t, "mistral-embed", [][]float32{{0.5, 0.5}})
	defer srv.Close()

	e := NewMistralEmbedder(EmbeddingConfig{APIKey: "k", BaseURL: srv.URL})
	vec, err := e.EmbedQuery(context.Background(), "hi")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	assertFloat32Slice(t, vec, []float32{0.5, 0.5})
}

// ---------- Gemini Provider Tests ----------

func TestGeminiEmbedder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var tasks []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "gem-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, ":embedContent"):
			var req geminiEmbedRequest
			json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			tasks = append(tasks, req.TaskType)
			mu.Unlock()
			fmt.Fprint(w, `{"embedding":{"values":[0.1,0.2]}}`)
		case strings.HasSuffix(r.URL.Path, ":batchEmbedContents"):
			var req geminiBatchEmbedRequest
			json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			for _, rr := range req.Requests {
				tasks = append(tasks, rr.TaskType)
			}
			mu.Unlock()
			fmt.Fprint(w, `{"embeddings":[{"values":[1,2]},{"values":[3,4]}]}`)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	e := NewGeminiEmbedder(EmbeddingConfig{APIKey: "gem-key", BaseURL: srv.URL})
	if e.Model() != "gemini-embedding-001" || e.Dimensions() != 768 {
		t.Errorf("defaults = %s/%d", e.Model(), e.Dimensions())
	}

	q, err := e.EmbedQuery(context.Background(), "question")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	assertFloat32Slice(t, q, []float32{0.1, 0.2})

	docs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	assertFloat32Slice(t, docs[1], []float32{3, 4})

	want := []string{"RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT", "RETRIEVAL_DOCUMENT"}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(tasks, want) {
		t.Errorf("task types = %v, want %v", tasks, want)
	}
}

// ---------- Ollama Provider Tests ----------

func TestOllamaEmbedder_Batch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = []float32{float32(i + 1)}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer srv.Close()

	// A trailing /v1 from OpenAI-style configs is ignored.
	e := NewOllamaEmbedder(EmbeddingConfig{BaseURL: srv.URL + "/v1"})
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	assertFloat32Slice(t, vecs[2], []float32{3})
}

func TestOllamaEmbedder_LegacyBatchUnsupported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"embedding":[0.9,0.8]}`)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(EmbeddingConfig{BaseURL: srv.URL, LegacyAPI: true})
	if _, err := e.EmbedBatch(context.Background(), []string{"a"}); !errors.Is(err, ErrBatchUnsupported) {
		t.Fatalf("EmbedBatch error = %v, want ErrBatchUnsupported", err)
	}
	vec, err := e.EmbedQuery(context.Background(), "a")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	assertFloat32Slice(t, vec, []float32{0.9, 0.8})
}

// ---------- Fallback Tests ----------

func TestFallbackEmbedder_PrimaryFailsFallbackSucceeds(t *testing.T) {
	t.Parallel()

	primary := &fakeEmbedder{id: "primary", model: "m", err: errors.New("boom")}
	fallback := &fakeEmbedder{id: "backup", model: "m", dims: 2}
	f := NewFallbackEmbedder(primary, fallback, discardLogger())

	if f.ID() != "fallback:primary" {
		t.Errorf("ID() = %q", f.ID())
	}
	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || fallback.batchCalls.Load() != 1 {
		t.Errorf("fallback not used: %d vectors, %d calls", len(vecs), fallback.batchCalls.Load())
	}
}

func TestFallbackEmbedder_BothFail(t *testing.T) {
	t.Parallel()

	primary := &fakeEmbedder{id: "p", err: errors.New("primary down")}
	fallback := &fakeEmbedder{id: "f", err: errors.New("fallback down")}
	f := NewFallbackEmbedder(primary, fallback, discardLogger())

	_, err := f.EmbedQuery(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "primary down") || !strings.Contains(err.Error(), "fallback down") {
		t.Errorf("error %q does not mention both failures", err)
	}
}

// ---------- Registry Tests ----------

func TestNewEmbeddingProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EmbeddingConfig
		wantID  string
		wantErr bool
	}{
		{name: "openai", cfg: EmbeddingConfig{Provider: "openai", APIKey: "k"}, wantID: "openai"},
		{name: "case insensitive", cfg: EmbeddingConfig{Provider: "Gemini", APIKey: "k"}, wantID: "gemini"},
		{name: "google alias", cfg: EmbeddingConfig{Provider: "google", APIKey: "k"}, wantID: "gemini"},
		{name: "none", cfg: EmbeddingConfig{Provider: "none"}, wantID: "none"},
		{name: "empty is none", cfg: EmbeddingConfig{}, wantID: "none"},
		{name: "auto by base url", cfg: EmbeddingConfig{Provider: "auto", APIKey: "k", BaseURL: "https://api.voyageai.com/v1"}, wantID: "voyage"},
		{name: "auto ollama", cfg: EmbeddingConfig{Provider: "auto", BaseURL: "http://localhost:11434"}, wantID: "ollama"},
		{name: "with fallback", cfg: EmbeddingConfig{Provider: "openai", APIKey: "k", Fallback: "ollama"}, wantID: "fallback:openai"},
		{name: "unknown", cfg: EmbeddingConfig{Provider: "nope"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewEmbeddingProvider(tt.cfg, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got provider %s", p.ID())
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEmbeddingProvider: %v", err)
			}
			if p.ID() != tt.wantID {
				t.Errorf("ID() = %q, want %q", p.ID(), tt.wantID)
			}
		})
	}
}

func TestNewEmbeddingProvider_AutoWithoutKeys(t *testing.T) {
	for _, env := range []string{"OPENAI_API_KEY", "GOOGLE_API_KEY", "VOYAGE_API_KEY", "MISTRAL_API_KEY"} {
		t.Setenv(env, "")
	}
	p, err := NewEmbeddingProvider(EmbeddingConfig{Provider: "auto"}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !IsNullProvider(p) {
		t.Errorf("auto without keys = %s, want null provider", p.ID())
	}
}

func TestRegisterProvider(t *testing.T) {
	RegisterProvider("test-fake", func(cfg EmbeddingConfig) (EmbeddingProvider, error) {
		return &fakeEmbedder{id: "test-fake", model: cfg.Model}, nil
	})
	if !slices.Contains(Providers(), "test-fake") {
		t.Fatalf("Providers() = %v", Providers())
	}
	p, err := NewEmbeddingProvider(EmbeddingConfig{Provider: "test-fake", Model: "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Model() != "x" {
		t.Errorf("Model() = %q", p.Model())
	}
}

func TestProviderKey_ChangesWithModel(t *testing.T) {
	t.Parallel()

	a := NewOpenAIEmbedder(EmbeddingConfig{APIKey: "k", Model: "a"})
	b := NewOpenAIEmbedder(EmbeddingConfig{APIKey: "k", Model: "b"})
	if ProviderKey(a) == ProviderKey(b) {
		t.Error("ProviderKey ignores the model")
	}
	if ProviderKey(a) != ProviderKey(NewOpenAIEmbedder(EmbeddingConfig{APIKey: "other", Model: "a"})) {
		t.Error("ProviderKey depends on the API key")
	}
}

// ---------- Helpers ----------

// fakeEmbedder returns deterministic vectors and counts calls.
type fakeEmbedder struct {
	id, model  string
	dims       int
	err        error
	noBatch    bool
	batchCalls atomic.Int64
	queryCalls atomic.Int64
	texts      atomic.Int64
}

func (f *fakeEmbedder) ID() string { return f.id }

func (f *fakeEmbedder) Model() string { return f.model }

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queryCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batchCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.noBatch {
		return nil, ErrBatchUnsupported
	}
	f.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// vector is a bag-of-letters embedding: similar texts land close together.
func (f *fakeEmbedder) vector(text string) []float32 {
	dims := f.dims
	if dims <= 0 {
		dims = 8
	}
	v := make([]float32, dims)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%dims]++
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if norm := float32(math.Sqrt(sum)); norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}

// newMockOpenAIServer creates a test server that responds with OpenAI-compatible embeddings.
func newMockOpenAIServer(t *testing.T, expectedModel string, embeddings [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if model, _ := req["model"].(string); model != expectedModel {
			t.Errorf("request model = %q, want %q", model, expectedModel)
		}

		data := make([]map[string]any, len(embeddings))
		for i, emb := range embeddings {
			floats := make([]float64, len(emb))
			for j, v := range emb {
				floats[j] = float64(v)
			}
			data[i] = map[string]any{
				"object":    "embedding",
				"embedding": floats,
				"index":     i,
			}
		}

		resp := map[string]any{"object": "list", "data": data, "model": expectedModel}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func assertFloat32Slice(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("len = %d, want %d", len(got), len(want))
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}
