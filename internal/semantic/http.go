package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/resilience"
)

const (
	defaultBatchSize = 32
	requestTimeout   = 60 * time.Second
)

// HTTPProvider calls an OpenAI-format /v1/embeddings endpoint. Requests go
// through a circuit breaker so a dead embedding server degrades the run to
// keyword-only scoring instead of stalling every document on timeouts.
type HTTPProvider struct {
	baseURL string
	key     string
	model   string
	batch   int
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewFromConfig returns the configured provider, or nil when embedding is
// disabled.
func NewFromConfig(cfg config.EmbedConfig) Provider {
	if !cfg.Enabled {
		zap.L().Info("embedding disabled, semantic scoring degrades to keyword-only")
		return nil
	}
	return NewHTTPProvider(cfg)
}

func NewHTTPProvider(cfg config.EmbedConfig) *HTTPProvider {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	brCfg := resilience.DefaultCircuitBreakerConfig()
	brCfg.ShouldTrip = resilience.IsTransient
	brCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("embedding circuit state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.Key,
		model:   cfg.Model,
		batch:   batch,
		client:  &http.Client{Timeout: requestTimeout},
		breaker: resilience.NewCircuitBreaker(brCfg),
	}
}

func (p *HTTPProvider) ModelName() string { return p.model }

// Embed returns one vector per input text, batching requests to the
// configured size.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batch {
		end := min(start+p.batch, len(texts))
		vecs, err := resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) ([][]float32, error) {
			return p.embedBatch(ctx, texts[start:end])
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *HTTPProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, eris.Wrap(err, "semantic: encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "semantic: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.key != "" {
		req.Header.Set("Authorization", "Bearer "+p.key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "semantic: embeddings request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.Errorf("semantic: embeddings endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, eris.Wrap(err, "semantic: decode response")
	}
	if len(parsed.Data) != len(texts) {
		return nil, eris.Errorf("semantic: got %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, eris.Errorf("semantic: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
