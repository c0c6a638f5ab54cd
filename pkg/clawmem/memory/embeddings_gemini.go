// Package memory – embeddings_gemini.go implements the Google Gemini embedding
// provider. Queries use task type RETRIEVAL_QUERY, documents use
// RETRIEVAL_DOCUMENT through batchEmbedContents.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-embedding-001"
	defaultGeminiDims    = 768
)

// GeminiEmbedder generates embeddings using the Google Gemini API.
type GeminiEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

// NewGeminiEmbedder creates a Gemini embedding provider.
func NewGeminiEmbedder(cfg EmbeddingConfig) *GeminiEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultGeminiDims
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiEmbedder{
		apiKey:     resolveAPIKey(cfg.APIKey, "GOOGLE_API_KEY"),
		model:      strings.TrimPrefix(model, "models/"),
		dimensions: dims,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     newEmbedHTTPClient(cfg.TimeoutSeconds),
	}
}

type geminiEmbedRequest struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	TaskType             string        `json:"taskType,omitempty"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding *geminiEmbeddingValues `json:"embedding"`
	Error     *geminiError           `json:"error,omitempty"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiEmbeddingValues `json:"embeddings"`
	Error      *geminiError            `json:"error,omitempty"`
}

type geminiEmbeddingValues struct {
	Values []float32 `json:"values"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ID returns the provider name.
func (e *GeminiEmbedder) ID() string { return "gemini" }

// Model returns the model name.
func (e *GeminiEmbedder) Model() string { return e.model }

// Dimensions returns the output vector dimensionality.
func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }

// ProviderKey scopes cached vectors to endpoint, model and size.
func (e *GeminiEmbedder) ProviderKey() string {
	return shortHash("gemini|" + e.baseURL + "|" + e.model + "|" + strconv.Itoa(e.dimensions))
}

func (e *GeminiEmbedder) request(text, task string) geminiEmbedRequest {
	return geminiEmbedRequest{
		Model:                "models/" + e.model,
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		TaskType:             task,
		OutputDimensionality: e.dimensions,
	}
}

func (e *GeminiEmbedder) endpoint(method string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s", e.baseURL, e.model, method, url.QueryEscape(e.apiKey))
}

// EmbedQuery calls embedContent with the query task type.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var result geminiEmbedResponse
	if err := postJSON(ctx, e.client, "gemini", e.endpoint("embedContent"), nil, e.request(text, "RETRIEVAL_QUERY"), &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("gemini: embed API error: %s", result.Error.Message)
	}
	if result.Embedding == nil || len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini: empty embedding response")
	}
	return result.Embedding.Values, nil
}

// EmbedBatch calls batchEmbedContents with the document task type.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requests := make([]geminiEmbedRequest, len(texts))
	for i, text := range texts {
		requests[i] = e.request(text, "RETRIEVAL_DOCUMENT")
	}

	var result geminiBatchEmbedResponse
	if err := postJSON(ctx, e.client, "gemini", e.endpoint("batchEmbedContents"), nil, geminiBatchEmbedRequest{Requests: requests}, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("gemini: batch embed API error: %s", result.Error.Message)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: got %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = result.Embeddings[i].Values
	}
	return embeddings, nil
}
