package textgen

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.5-flash"
)

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	cfg   Config
	retry retrier
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func NewGeminiClient(cfg Config) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	cfg.HTTPClient = defaultHTTPClient(cfg)
	return &GeminiClient{cfg: cfg, retry: newRetrier(ProviderGemini, cfg)}
}

func (c *GeminiClient) Name() string { return ProviderGemini }

// Generate returns the concatenated text parts of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.Model))

	req := geminiRequest{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}}
	req.GenerationConfig.MaxOutputTokens = DefaultMaxTokens

	return c.retry.do(ctx, func(ctx context.Context) (string, error) {
		var resp geminiResponse
		err := postJSON(ctx, c.cfg.HTTPClient, endpoint,
			map[string]string{"x-goog-api-key": c.cfg.APIKey}, req, &resp)
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 {
			return "", nil
		}
		var sb strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		return sb.String(), nil
	})
}
