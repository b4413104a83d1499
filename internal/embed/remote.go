package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/trailblazer-io/trailblazer/internal/config"
	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// Remote provider defaults.
const (
	DefaultRemoteTimeout = 60 * time.Second
	embeddingsPath       = "/embeddings"
)

// RemoteEmbedder calls an HTTP embedding service with an OpenAI-compatible
// request shape: POST {endpoint}/embeddings with {"model","input":[...]}.
type RemoteEmbedder struct {
	endpoint string
	model    string
	dim      int
	apiKey   string
	client   *http.Client
	retry    RetryConfig
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
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewRemoteEmbedder creates a remote provider from configuration. The API
// key, when required, is read from the environment variable named by
// cfg.APIKeyEnv.
func NewRemoteEmbedder(cfg config.EmbedConfig) (*RemoteEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, pperrors.Newf(pperrors.ErrCodeConfigInvalid,
			"remote provider requires embed.endpoint")
	}
	if cfg.Dimension <= 0 {
		return nil, pperrors.Newf(pperrors.ErrCodeConfigInvalid,
			"remote provider requires a positive embed.dimension")
	}
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &RemoteEmbedder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		dim:      cfg.Dimension,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: DefaultRemoteTimeout},
		retry:    DefaultRetryConfig(),
	}, nil
}

// Embed generates the embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one provider call,
// retrying transient failures with exponential backoff.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var vectors [][]float32
	err := WithRetry(ctx, e.retry, func() error {
		got, err := e.call(ctx, texts)
		if err != nil {
			return err
		}
		vectors = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *RemoteEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+embeddingsPath, bytes.NewReader(body))
	if err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pperrors.Wrap(pperrors.ErrCodeRemoteTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeRemoteFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("embeddings request returned HTTP %d", resp.StatusCode)
		// Client errors will not heal on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, pperrors.New(pperrors.ErrCodeConfigInvalid, msg, nil)
		}
		return nil, pperrors.New(pperrors.ErrCodeRemoteFailed, msg, nil)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, pperrors.Wrap(pperrors.ErrCodeRemoteFailed, err)
	}
	if parsed.Error != nil {
		return nil, pperrors.Newf(pperrors.ErrCodeRemoteFailed, "provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, pperrors.Newf(pperrors.ErrCodeRemoteFailed,
			"provider returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, pperrors.Newf(pperrors.ErrCodeRemoteFailed,
				"provider returned out-of-range index %d", item.Index)
		}
		if len(item.Embedding) != e.dim {
			return nil, pperrors.DimensionMismatch(len(item.Embedding), e.dim)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, pperrors.Newf(pperrors.ErrCodeRemoteFailed,
				"provider response missing index %d", i)
		}
	}
	return vectors, nil
}

// Dimensions returns the declared embedding dimension.
func (e *RemoteEmbedder) Dimensions() int { return e.dim }

// ModelName returns the model identifier.
func (e *RemoteEmbedder) ModelName() string { return e.model }

// Available probes the endpoint with a one-item request.
func (e *RemoteEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.call(probeCtx, []string{"ping"})
	return err == nil
}

// Close releases idle connections.
func (e *RemoteEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

var _ Embedder = (*RemoteEmbedder)(nil)
