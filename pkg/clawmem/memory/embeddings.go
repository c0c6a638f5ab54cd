// Package memory – embeddings.go defines the embedding provider contract and
// the provider registry. Built-in providers: openai, gemini, voyage, mistral,
// ollama, none and auto. Extra providers can be added with RegisterProvider.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// EmbeddingProvider generates vector embeddings from text.
type EmbeddingProvider interface {
	// ID returns the provider name (cache key and logging).
	ID() string

	// Model returns the model name. Chunks are versioned by it.
	Model() string

	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds documents, one vector per input text. Providers
	// without a batch endpoint return ErrBatchUnsupported.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Dimensioned is implemented by providers with a known output size.
type Dimensioned interface {
	Dimensions() int
}

// Keyed is implemented by providers whose vectors depend on endpoint
// settings beyond ID and model. The key scopes the embedding cache.
type Keyed interface {
	ProviderKey() string
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is the provider name ("openai", "gemini", "voyage", "mistral", "ollama", "auto", "none").
	Provider string `yaml:"provider"`

	// Model is the embedding model name. Empty uses the provider default.
	Model string `yaml:"model"`

	// Dimensions requests a vector size from providers that support it.
	Dimensions int `yaml:"dimensions"`

	// APIKey for the provider. Empty falls back to the provider env var.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Cache enables the embedding cache (default: true).
	Cache bool `yaml:"cache"`

	// TimeoutSeconds bounds each provider HTTP call.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// LegacyAPI makes the ollama provider use /api/embeddings, one text per call.
	LegacyAPI bool `yaml:"legacy_api"`

	// Fallback is the provider used when the primary fails.
	Fallback        string `yaml:"fallback"`
	FallbackAPIKey  string `yaml:"fallback_api_key"`
	FallbackBaseURL string `yaml:"fallback_base_url"`
	FallbackModel   string `yaml:"fallback_model"`
}

// DefaultEmbeddingConfig returns sensible defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:       "auto",
		Cache:          true,
		TimeoutSeconds: 30,
		Fallback:       "none",
	}
}

// ---------- Registry ----------

// ProviderFactory builds a provider from config.
type ProviderFactory func(cfg EmbeddingConfig) (EmbeddingProvider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ProviderFactory{}
)

func init() {
	RegisterProvider("openai", func(cfg EmbeddingConfig) (EmbeddingProvider, error) { return NewOpenAIEmbedder(cfg), nil })
	RegisterProvider("gemini", func(cfg EmbeddingConfig) (EmbeddingProvider, error) { return NewGeminiEmbedder(cfg), nil })
	RegisterProvider("google", func(cfg EmbeddingConfig) (EmbeddingProvider, error) { return NewGeminiEmbedder(cfg), nil })
	RegisterProvider("voyage", func(cfg EmbeddingConfig) (EmbeddingProvider, error) { return NewVoyageEmbedder(cfg), nil })
	RegisterProvider("mistral", func(cfg EmbeddingConfig) (EmbeddingProvider, error) { return NewMistralEmbedder(cfg), nil })
	RegisterProvider("ollama", func(cfg EmbeddingConfig) (EmbeddingProvider, error) { return NewOllamaEmbedder(cfg), nil })
	RegisterProvider("none", func(EmbeddingConfig) (EmbeddingProvider, error) { return &NullEmbedder{}, nil })
	RegisterProvider("auto", newAutoEmbedder)
}

// RegisterProvider adds or replaces a named provider factory.
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// Providers lists the registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// NewEmbeddingProvider creates an embedding provider from config. When a
// fallback is configured the primary is wrapped in a FallbackEmbedder.
func NewEmbeddingProvider(cfg EmbeddingConfig, logger *slog.Logger) (EmbeddingProvider, error) {
	primary, err := newEmbeddingProviderByName(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Fallback != "" && cfg.Fallback != "none" && !IsNullProvider(primary) {
		fallbackCfg := EmbeddingConfig{
			Provider:       cfg.Fallback,
			APIKey:         cfg.FallbackAPIKey,
			BaseURL:        cfg.FallbackBaseURL,
			Model:          cfg.FallbackModel,
			Dimensions:     cfg.Dimensions,
			Cache:          cfg.Cache,
			TimeoutSeconds: cfg.TimeoutSeconds,
		}
		fallback, err := newEmbeddingProviderByName(cfg.Fallback, fallbackCfg)
		if err != nil {
			return nil, fmt.Errorf("fallback provider: %w", err)
		}
		if !IsNullProvider(fallback) {
			return NewFallbackEmbedder(primary, fallback, logger), nil
		}
	}
	return primary, nil
}

func newEmbeddingProviderByName(name string, cfg EmbeddingConfig) (EmbeddingProvider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "none"
	}
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (available: %s)", name, strings.Join(Providers(), ", "))
	}
	return factory(cfg)
}

// autoProviderOrder defines the priority for auto-selecting a provider.
var autoProviderOrder = []struct {
	name   string
	envVar string
}{
	{"openai", "OPENAI_API_KEY"},
	{"gemini", "GOOGLE_API_KEY"},
	{"voyage", "VOYAGE_API_KEY"},
	{"mistral", "MISTRAL_API_KEY"},
}

// newAutoEmbedder picks a provider from the base URL when a key is
// configured, otherwise from the first provider env var that is set. With no
// key at all it degrades to the null provider (lexical-only search).
func newAutoEmbedder(cfg EmbeddingConfig) (EmbeddingProvider, error) {
	if cfg.APIKey != "" {
		lower := strings.ToLower(cfg.BaseURL)
		name := "openai"
		switch {
		case strings.Contains(lower, "googleapis") || strings.Contains(lower, "gemini"):
			name = "gemini"
		case strings.Contains(lower, "voyageai"):
			name = "voyage"
		case strings.Contains(lower, "mistral"):
			name = "mistral"
		}
		return newEmbeddingProviderByName(name, cfg)
	}

	if cfg.BaseURL != "" && strings.Contains(strings.ToLower(cfg.BaseURL), "11434") {
		return newEmbeddingProviderByName("ollama", cfg)
	}

	for _, p := range autoProviderOrder {
		if key := os.Getenv(p.envVar); key != "" {
			autoCfg := cfg
			autoCfg.APIKey = key
			return newEmbeddingProviderByName(p.name, autoCfg)
		}
	}
	return &NullEmbedder{}, nil
}

// ---------- Null Embedding Provider ----------

// NullEmbedder disables semantic search. Chunks are stored without vectors.
type NullEmbedder struct{}

// ID returns "none".
func (e *NullEmbedder) ID() string { return "none" }

// Model returns "none".
func (e *NullEmbedder) Model() string { return "none" }

// Dimensions returns 0.
func (e *NullEmbedder) Dimensions() int { return 0 }

// EmbedQuery returns no vector.
func (e *NullEmbedder) EmbedQuery(context.Context, string) ([]float32, error) { return nil, nil }

// EmbedBatch returns one empty vector per text.
func (e *NullEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

// IsNullProvider reports whether p produces no vectors.
func IsNullProvider(p EmbeddingProvider) bool {
	if p == nil {
		return true
	}
	_, ok := p.(*NullEmbedder)
	return ok
}

// ---------- Fallback Embedder ----------

// FallbackEmbedder wraps a primary and fallback provider. On primary failure
// it retries with the fallback. Vectors are stored under the primary's model,
// so the fallback must produce compatible vectors.
type FallbackEmbedder struct {
	primary  EmbeddingProvider
	fallback EmbeddingProvider
	logger   *slog.Logger
}

// NewFallbackEmbedder creates a fallback-enabled embedder.
func NewFallbackEmbedder(primary, fallback EmbeddingProvider, logger *slog.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackEmbedder{primary: primary, fallback: fallback, logger: logger}
}

// ID returns "fallback:{primary}".
func (f *FallbackEmbedder) ID() string { return "fallback:" + f.primary.ID() }

// Model returns the primary provider's model.
func (f *FallbackEmbedder) Model() string { return f.primary.Model() }

// Dimensions returns the primary provider's dimensions.
func (f *FallbackEmbedder) Dimensions() int { return providerDims(f.primary) }

// ProviderKey scopes the cache to the primary provider.
func (f *FallbackEmbedder) ProviderKey() string { return ProviderKey(f.primary) }

// EmbedQuery tries the primary provider, falling back on error.
func (f *FallbackEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.primary.EmbedQuery(ctx, text)
	if err == nil {
		return vec, nil
	}
	f.logFailover(err)
	vec, fbErr := f.fallback.EmbedQuery(ctx, text)
	if fbErr != nil {
		return nil, f.bothFailed(err, fbErr)
	}
	return vec, nil
}

// EmbedBatch tries the primary provider, falling back on error.
func (f *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := f.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	f.logFailover(err)
	vecs, fbErr := f.fallback.EmbedBatch(ctx, texts)
	if fbErr != nil {
		return nil, f.bothFailed(err, fbErr)
	}
	return vecs, nil
}

func (f *FallbackEmbedder) logFailover(err error) {
	f.logger.Warn("embedding primary failed, trying fallback",
		"primary", f.primary.ID(),
		"fallback", f.fallback.ID(),
		"error", err,
	)
}

func (f *FallbackEmbedder) bothFailed(primaryErr, fallbackErr error) error {
	return fmt.Errorf("primary (%s) failed: %w; fallback (%s) failed: %v",
		f.primary.ID(), primaryErr, f.fallback.ID(), fallbackErr)
}

// ---------- Helpers ----------

// ProviderKey returns the cache scope of p.
func ProviderKey(p EmbeddingProvider) string {
	if k, ok := p.(Keyed); ok {
		return k.ProviderKey()
	}
	return shortHash(p.ID() + "|" + p.Model())
}

func providerDims(p EmbeddingProvider) int {
	if d, ok := p.(Dimensioned); ok {
		return d.Dimensions()
	}
	return 0
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}

// resolveAPIKey returns the configured key, falling back to the given env var.
func resolveAPIKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

// newEmbedHTTPClient creates an HTTP client for embedding providers.
func newEmbedHTTPClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal embed request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("%s: create embed request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: embed API call: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read embed response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: embed API error (status %d): %s", name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: unmarshal embed response: %w", name, err)
	}
	return nil
}

// firstVector returns the single vector of a one-text batch.
func firstVector(name string, vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%s: empty embedding response", name)
	}
	return vecs[0], nil
}
