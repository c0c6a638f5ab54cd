// Package memory – embeddings_openai.go implements the OpenAI embedding
// provider on top of the go-openai client. Any OpenAI-compatible endpoint
// can be used through BaseURL.
package memory

import (
	"context"
	"fmt"
	"strconv"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = string(openai.SmallEmbedding3)
	defaultOpenAIDims    = 1536
)

// OpenAIEmbedder generates embeddings using the OpenAI Embeddings API.
type OpenAIEmbedder struct {
	client        *openai.Client
	model         string
	baseURL       string
	dimensions    int
	sendDimension bool
}

// NewOpenAIEmbedder creates an OpenAI embedding provider.
func NewOpenAIEmbedder(cfg EmbeddingConfig) *OpenAIEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultOpenAIDims
	}

	clientCfg := openai.DefaultConfig(resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY"))
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = newEmbedHTTPClient(cfg.TimeoutSeconds)

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		baseURL:    baseURL,
		dimensions: dims,
		// Only explicit sizes are sent: not every compatible server accepts it.
		sendDimension: cfg.Dimensions > 0,
	}
}

// ID returns the provider name.
func (e *OpenAIEmbedder) ID() string { return "openai" }

// Model returns the model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimensions returns the output vector dimensionality.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ProviderKey scopes cached vectors to endpoint, model and size.
func (e *OpenAIEmbedder) ProviderKey() string {
	return shortHash("openai|" + e.baseURL + "|" + e.model + "|" + strconv.Itoa(e.dimensions))
}

// EmbedQuery embeds a search query.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return firstVector("openai", vecs)
}

// EmbedBatch embeds texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.sendDimension {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}

	// Sort by index to match input order.
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, v := range embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("openai: missing embedding for input %d", i)
		}
	}
	return embeddings, nil
}
