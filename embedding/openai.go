package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/internal/retry"
	"github.com/BaSui01/memflow/internal/tlsutil"
)

// Config holds the settings for an OpenAI-compatible embeddings endpoint.
type Config struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`

	// EndpointPath defaults to "/v1/embeddings".
	EndpointPath string `yaml:"endpoint_path" json:"endpoint_path"`

	// Dimensions must match what the model produces. The similarity index
	// stores raw vectors, so changing this invalidates existing entries.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RequestsPerMinute throttles outbound calls. Zero disables the
	// limiter.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`

	// CacheTTL is how long the caching decorator keeps vectors. Zero
	// means no expiry.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	Retry retry.Policy `yaml:"retry" json:"retry"`
}

// DefaultConfig returns production defaults for the hosted OpenAI
// embeddings API.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.openai.com",
		Model:             "text-embedding-3-small",
		EndpointPath:      "/v1/embeddings",
		Dimensions:        1536,
		Timeout:           30 * time.Second,
		RequestsPerMinute: 120,
		CacheTTL:          24 * time.Hour,
		Retry:             retry.DefaultPolicy(),
	}
}

// OpenAICompat talks to any OpenAI-compatible embeddings API.
type OpenAICompat struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewOpenAICompat builds the provider.
func NewOpenAICompat(cfg Config, logger *zap.Logger) *OpenAICompat {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/embeddings"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	logger = logger.With(zap.String("component", "embedding_client"))
	return &OpenAICompat{
		config:  cfg,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: limiter,
		retryer: retry.New(cfg.Retry, logger),
		logger:  logger,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed implements Provider.
func (p *OpenAICompat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	payload, err := json.Marshal(embedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var vectors [][]float32
	err = p.retryer.Do(ctx, func() error {
		out, callErr := p.call(ctx, payload, len(texts))
		if callErr != nil {
			return callErr
		}
		vectors = out
		return nil
	})
	if err != nil {
		p.logger.Warn("embedding failed after retries", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vectors, nil
}

// EmbedQuery implements Provider.
func (p *OpenAICompat) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// Dimensions implements Provider.
func (p *OpenAICompat) Dimensions() int {
	return p.config.Dimensions
}

func (p *OpenAICompat) call(ctx context.Context, payload []byte, want int) ([][]float32, error) {
	url := strings.TrimRight(p.config.BaseURL, "/") + p.config.EndpointPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embeddings status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embeddings error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("expected %d vectors, got %d", want, len(parsed.Data))
	}

	// The API does not guarantee response order, the index field does.
	vectors := make([][]float32, want)
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("vector index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
