package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/resilience"
)

// Options configures the HTTP embedding service client.
type Options struct {
	BaseURL string
	Key     string
	Model   string
	Timeout time.Duration

	// ImageWidth substitutes {width} placeholders in CDN URL templates;
	// RetryWidth is tried once when the first attempt fails.
	ImageWidth int
	RetryWidth int
}

// Service calls a remote embedding service that fetches the image itself
// and returns its vector.
type Service struct {
	http *http.Client
	opts Options
}

// NewService creates an embedding service client.
func NewService(opts Options) *Service {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ImageWidth == 0 {
		opts.ImageWidth = 800
	}
	return &Service{
		http: &http.Client{Timeout: opts.Timeout},
		opts: opts,
	}
}

type embedRequest struct {
	ImageURL string            `json:"image_url"`
	Model    string            `json:"model,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Embedder. A failed attempt is retried once with the
// larger width variant; some CDNs only serve selected sizes.
func (s *Service) Embed(ctx context.Context, imageURL string) ([]float32, error) {
	normalized, headers := NormalizeImageURL(imageURL, s.opts.ImageWidth)
	if normalized == "" {
		return nil, eris.New("embed: empty image url")
	}

	vec, err := s.embedOnce(ctx, normalized, headers)
	if err == nil {
		return vec, nil
	}

	if s.opts.RetryWidth > 0 && s.opts.RetryWidth != s.opts.ImageWidth {
		retryURL, retryHeaders := NormalizeImageURL(imageURL, s.opts.RetryWidth)
		if retryURL != normalized {
			zap.L().Debug("embed: retrying with larger width",
				zap.String("url", retryURL), zap.Error(err))
			if vec, rerr := s.embedOnce(ctx, retryURL, retryHeaders); rerr == nil {
				return vec, nil
			}
		}
	}
	return nil, err
}

func (s *Service) embedOnce(ctx context.Context, imageURL string, headers map[string]string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{
		ImageURL: imageURL,
		Model:    s.opts.Model,
		Headers:  headers,
	})
	if err != nil {
		return nil, eris.Wrap(err, "embed: marshal request")
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("embed", "embed")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.opts.BaseURL+"/embed", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "embed: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		if s.opts.Key != "" {
			req.Header.Set("Authorization", "Bearer "+s.opts.Key)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "embed: request"), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "embed: read body"), 0)
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("embed: status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, eris.Errorf("embed: status %d: %s", resp.StatusCode, string(body))
		}

		var out embedResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "embed: decode response")
		}
		if len(out.Embedding) == 0 {
			return nil, eris.New("embed: empty embedding in response")
		}
		return out.Embedding, nil
	})
}
