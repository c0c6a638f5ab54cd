// Package memory – embeddings_ollama.go implements the Ollama embedding
// provider for local models. The default /api/embed endpoint accepts
// batches; LegacyAPI selects /api/embeddings, which embeds one prompt per
// call and reports ErrBatchUnsupported for batches.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "nomic-embed-text"
	defaultOllamaDims    = 768
	ollamaTimeoutSeconds = 120
)

// OllamaEmbedder generates embeddings with a local Ollama server.
type OllamaEmbedder struct {
	model      string
	dimensions int
	baseURL    string
	legacy     bool
	client     *http.Client
}

// NewOllamaEmbedder creates an Ollama embedding provider.
func NewOllamaEmbedder(cfg EmbeddingConfig) *OllamaEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultOllamaDims
	}
	timeout := cfg.TimeoutSeconds
	if timeout < ollamaTimeoutSeconds {
		timeout = ollamaTimeoutSeconds
	}
	return &OllamaEmbedder{
		model:      model,
		dimensions: dims,
		baseURL:    strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1"),
		legacy:     cfg.LegacyAPI,
		client:     newEmbedHTTPClient(timeout),
	}
}

// ID returns the provider name.
func (e *OllamaEmbedder) ID() string { return "ollama" }

// Model returns the model name.
func (e *OllamaEmbedder) Model() string { return e.model }

// Dimensions returns the configured vector dimensionality.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// ProviderKey scopes cached vectors to the server and model.
func (e *OllamaEmbedder) ProviderKey() string {
	return shortHash("ollama|" + e.baseURL + "|" + e.model)
}

// EmbedQuery embeds a single text.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.legacy {
		return e.embedLegacy(ctx, text)
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return firstVector("ollama", vecs)
}

// EmbedBatch embeds texts through /api/embed.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.legacy {
		return nil, ErrBatchUnsupported
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
		Error      string      `json:"error,omitempty"`
	}
	body := map[string]any{"model": e.model, "input": texts}
	if err := postJSON(ctx, e.client, "ollama", e.baseURL+"/api/embed", nil, body, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama: embed API error: %s", result.Error)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}

func (e *OllamaEmbedder) embedLegacy(ctx context.Context, text string) ([]float32, error) {
	var result struct {
		Embedding []float32 `json:"embedding"`
		Error     string    `json:"error,omitempty"`
	}
	body := map[string]any{"model": e.model, "prompt": text}
	if err := postJSON(ctx, e.client, "ollama", e.baseURL+"/api/embeddings", nil, body, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama: embed API error: %s", result.Error)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding response")
	}
	return result.Embedding, nil
}
