// Package textgen calls hosted text-generation APIs.
//
// Two wire formats are supported: Gemini generateContent and the
// OpenAI-compatible chat completions endpoint. Calls are retried with
// exponential backoff on rate limits, server errors and network failures;
// authentication and request errors fail immediately.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/PratikDhanave/usage-insights-engine/internal/apperrors"
	"github.com/PratikDhanave/usage-insights-engine/internal/metrics"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultMaxRetries     = 2
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultMaxTokens      = 512

	maxErrorBody = 512
)

// Generator turns a prompt into free text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	BaseURL        string
	MaxRetries     int
	BackoffInitial time.Duration
	HTTPClient     *http.Client
}

// New builds the configured Generator. It returns (nil, nil) when no API key
// is set so callers can run without a collaborator.
func New(cfg Config) (Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGeminiClient(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown text generation provider %q", cfg.Provider)
	}
}

type retrier struct {
	provider   string
	maxRetries int
	initial    time.Duration
}

func newRetrier(provider string, cfg Config) retrier {
	r := retrier{provider: provider, maxRetries: cfg.MaxRetries, initial: cfg.BackoffInitial}
	if r.maxRetries < 0 {
		r.maxRetries = 0
	}
	if r.initial <= 0 {
		r.initial = DefaultBackoffInitial
	}
	return r
}

// do runs call until it succeeds, fails permanently, exhausts the retry
// budget or ctx is done.
func (r retrier) do(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initial
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.maxRetries)), ctx)

	var out string
	err := backoff.Retry(func() error {
		start := time.Now()
		text, err := call(ctx)
		metrics.TextGenRequestDuration.WithLabelValues(r.provider).Observe(time.Since(start).Seconds())
		if err != nil {
			if !apperrors.IsRetryable(err) {
				metrics.TextGenRequestsTotal.WithLabelValues(r.provider, "permanent_error").Inc()
				return backoff.Permanent(err)
			}
			metrics.TextGenRequestsTotal.WithLabelValues(r.provider, "transient_error").Inc()
			return err
		}
		metrics.TextGenRequestsTotal.WithLabelValues(r.provider, "ok").Inc()
		out = text
		return nil
	}, b)
	return out, err
}

func transient(msg string, cause error) error {
	return apperrors.Wrap(apperrors.CategoryCollaborator, apperrors.CodeTransient, msg, cause)
}

func permanent(msg string, cause error) error {
	return apperrors.Wrap(apperrors.CategoryCollaborator, apperrors.CodePermanent, msg, cause)
}

// postJSON sends body to url and decodes a 2xx response into out.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return permanent("encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return permanent("request cancelled", ctx.Err())
		}
		return transient("send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return transient("upstream unavailable", cause)
		}
		return permanent("request rejected", cause)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return permanent("decode response", err)
	}
	return nil
}

func defaultHTTPClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
