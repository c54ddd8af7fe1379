// Package llm is the text-generation client: one system instruction, one
// user content, a bounded output budget, one text answer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Completer is the request/response completion call the pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Config configures the text-generation client.
type Config struct {
	// Driver selects the implementation: "http" (raw REST) or "eino".
	Driver string `yaml:"driver"`

	// Provider is openai, anthropic or gemini. Empty detects it from BaseURL.
	Provider string `yaml:"provider"`

	// BaseURL of the API (default: https://api.openai.com/v1).
	BaseURL string `yaml:"base_url"`

	// APIKey is resolved from the keyring or environment when empty.
	APIKey string `yaml:"api_key"`

	// Model name (default: gpt-3.5-turbo).
	Model string `yaml:"model"`

	// Temperature, when set, is sent with every request.
	Temperature *float64 `yaml:"temperature"`

	// Timeout bounds a single request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of extra attempts on retryable errors.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the base delay between attempts, doubled each time.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       "http",
		BaseURL:      "https://api.openai.com/v1",
		Model:        "gpt-3.5-turbo",
		Timeout:      90 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 2 * time.Second,
	}
}

// Client talks to OpenAI-compatible and Anthropic REST APIs directly.
type Client struct {
	baseURL     string
	provider    string
	apiKey      string
	model       string
	temperature *float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a REST client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	provider := cfg.Provider
	if provider == "" {
		provider = detectProvider(baseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Client{
		baseURL:     baseURL,
		provider:    provider,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   15 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   4,
			},
		},
		logger: logger.With("component", "llm", "provider", provider),
	}
}

// detectProvider infers the provider from the base URL.
func detectProvider(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "anthropic.com"):
		return "anthropic"
	case strings.Contains(baseURL, "generativelanguage.googleapis.com"):
		return "gemini"
	default:
		return "openai" // assume OpenAI-compatible
	}
}

// Provider returns the detected provider name.
func (c *Client) Provider() string {
	return c.provider
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one system + user exchange and returns the answer text.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if c.provider == "anthropic" {
		return c.completeAnthropic(ctx, system, user, maxTokens)
	}
	return c.completeOpenAI(ctx, system, user, maxTokens)
}

func (c *Client) completeOpenAI(ctx context.Context, system, user string, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	}
	if system != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: user})

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	respBody, err := c.post(ctx, c.baseURL+"/chat/completions", reqBody, headers)
	if err != nil {
		return "", err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", c.apiError(http.StatusOK, chatResp.Error.Message, 0)
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	c.logger.Debug("chat completion done",
		"model", c.model,
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", chatResp.Choices[0].FinishReason,
	)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

func (c *Client) completeAnthropic(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	reqBody := anthropicRequest{
		Model:       c.model,
		System:      system,
		Messages:    []chatMessage{{Role: "user", Content: user}},
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}
	respBody, err := c.post(ctx, c.baseURL+"/messages", reqBody, headers)
	if err != nil {
		return "", err
	}

	var anthResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthResp); err != nil {
		return "", fmt.Errorf("parsing anthropic response: %w", err)
	}
	if anthResp.Error != nil {
		return "", c.apiError(http.StatusOK, anthResp.Error.Message, 0)
	}

	var sb strings.Builder
	for _, block := range anthResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	c.logger.Debug("anthropic completion done",
		"model", c.model,
		"input_tokens", anthResp.Usage.InputTokens,
		"output_tokens", anthResp.Usage.OutputTokens,
		"stop_reason", anthResp.StopReason,
	)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// post sends a JSON request and returns the body of a 200 response.
func (c *Client) post(ctx context.Context, endpoint string, payload any, headers map[string]string) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
				retryAfter = time.Duration(sec) * time.Second
			}
		}
		c.logger.Warn("API error",
			"model", c.model,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"body", truncate(string(respBody), 500),
		)
		return nil, c.apiError(resp.StatusCode, string(respBody), retryAfter)
	}
	return respBody, nil
}

func (c *Client) apiError(status int, body string, retryAfter time.Duration) *APIError {
	return &APIError{
		StatusCode: status,
		Body:       body,
		Kind:       classifyAPIError(status, body),
		RetryAfter: retryAfter,
		Provider:   c.provider,
		Model:      c.model,
	}
}
