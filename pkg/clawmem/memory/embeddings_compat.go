// Package memory – embeddings_compat.go implements the Voyage AI and Mistral
// providers. Both speak the OpenAI /embeddings wire format; Voyage adds an
// input_type field that separates queries from documents.
package memory

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultVoyageBaseURL = "https://api.voyageai.com/v1"
	defaultVoyageModel   = "voyage-3-lite"
	defaultVoyageDims    = 1024

	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-embed"
	defaultMistralDims    = 1024
)

// compatEmbedder calls an OpenAI-compatible /embeddings endpoint.
type compatEmbedder struct {
	name       string
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client

	// queryBody and docBody are merged into query and document requests.
	queryBody map[string]any
	docBody   map[string]any
}

// compatEmbedResponse is the OpenAI-compatible embeddings API response.
type compatEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *compatEmbedder) ID() string      { return e.name }
func (e *compatEmbedder) Model() string   { return e.model }
func (e *compatEmbedder) Dimensions() int { return e.dimensions }

func (e *compatEmbedder) ProviderKey() string {
	return shortHash(e.name + "|" + e.baseURL + "|" + e.model + "|" + strconv.Itoa(e.dimensions))
}

func (e *compatEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, e.queryBody)
	if err != nil {
		return nil, err
	}
	return firstVector(e.name, vecs)
}

func (e *compatEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, e.docBody)
}

func (e *compatEmbedder) embed(ctx context.Context, texts []string, extra map[string]any) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"model": e.model,
		"input": texts,
	}
	maps.Copy(body, extra)

	endpoint := strings.TrimRight(e.baseURL, "/") + "/embeddings"
	headers := map[string]string{"Authorization": "Bearer " + e.apiKey}

	var result compatEmbedResponse
	if err := postJSON(ctx, e.client, e.name, endpoint, headers, body, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%s: embed API error: %s", e.name, result.Error.Message)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, v := range embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("%s: missing embedding for input %d", e.name, i)
		}
	}
	return embeddings, nil
}

// VoyageEmbedder generates embeddings using the Voyage AI API.
type VoyageEmbedder struct{ compatEmbedder }

// NewVoyageEmbedder creates a Voyage AI embedding provider.
func NewVoyageEmbedder(cfg EmbeddingConfig) *VoyageEmbedder {
	e := newCompatEmbedder("voyage", cfg, defaultVoyageBaseURL, defaultVoyageModel, defaultVoyageDims, "VOYAGE_API_KEY")
	e.queryBody = map[string]any{"input_type": "query"}
	e.docBody = map[string]any{"input_type": "document"}
	if cfg.Dimensions > 0 {
		e.queryBody["output_dimension"] = cfg.Dimensions
		e.docBody["output_dimension"] = cfg.Dimensions
	}
	return &VoyageEmbedder{e}
}

// MistralEmbedder generates embeddings using the Mistral API.
type MistralEmbedder struct{ compatEmbedder }

// NewMistralEmbedder creates a Mistral embedding provider.
func NewMistralEmbedder(cfg EmbeddingConfig) *MistralEmbedder {
	return &MistralEmbedder{newCompatEmbedder("mistral", cfg, defaultMistralBaseURL, defaultMistralModel, defaultMistralDims, "MISTRAL_API_KEY")}
}

func newCompatEmbedder(name string, cfg EmbeddingConfig, baseURL, model string, dims int, keyEnv string) compatEmbedder {
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	if cfg.Dimensions > 0 {
		dims = cfg.Dimensions
	}
	return compatEmbedder{
		name:       name,
		apiKey:     resolveAPIKey(cfg.APIKey, keyEnv),
		model:      model,
		dimensions: dims,
		baseURL:    baseURL,
		client:     newEmbedHTTPClient(cfg.TimeoutSeconds),
	}
}
