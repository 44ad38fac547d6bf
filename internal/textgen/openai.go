package textgen

import (
	"context"
	"strings"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIClient calls an OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	cfg   Config
	retry retrier
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIChatResponse struct {
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	cfg.HTTPClient = defaultHTTPClient(cfg)
	return &OpenAIClient{cfg: cfg, retry: newRetrier(ProviderOpenAI, cfg)}
}

func (c *OpenAIClient) Name() string { return ProviderOpenAI }

// Generate sends prompt as a single user message and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req := openAIChatRequest{
		Model:     c.cfg.Model,
		Messages:  []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens: DefaultMaxTokens,
	}

	return c.retry.do(ctx, func(ctx context.Context) (string, error) {
		var resp openAIChatResponse
		err := postJSON(ctx, c.cfg.HTTPClient, endpoint,
			map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}, req, &resp)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
}
