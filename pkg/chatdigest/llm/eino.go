package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// EinoClient completes through an eino chat model, which lets the pipeline
// run against Gemini and the official Claude SDK as well as OpenAI.
type EinoClient struct {
	chatModel model.BaseChatModel
	provider  string
	logger    *slog.Logger
}

// NewEinoClient builds the chat model for cfg.Provider.
func NewEinoClient(ctx context.Context, cfg Config, logger *slog.Logger) (*EinoClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider := cfg.Provider
	if provider == "" {
		provider = detectProvider(cfg.BaseURL)
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Timeout:     cfg.Timeout,
			Temperature: float32Ptr(cfg.Temperature),
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("creating gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       cfg.Model,
			Temperature: float32Ptr(cfg.Temperature),
		})
	case "anthropic", "claude":
		var baseURL *string
		if cfg.BaseURL != "" && !strings.Contains(cfg.BaseURL, "api.anthropic.com") {
			baseURL = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     baseURL,
			MaxTokens:   1024,
			Temperature: float32Ptr(cfg.Temperature),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s chat model: %w", provider, err)
	}

	return &EinoClient{
		chatModel: chatModel,
		provider:  provider,
		logger:    logger.With("component", "llm", "driver", "eino", "provider", provider),
	}, nil
}

// NewEinoClientFromModel wraps an existing chat model.
func NewEinoClientFromModel(m model.BaseChatModel, logger *slog.Logger) *EinoClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &EinoClient{chatModel: m, provider: "custom", logger: logger.With("component", "llm", "driver", "eino")}
}

// Complete implements Completer.
func (c *EinoClient) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	msgs := make([]*schema.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	msgs = append(msgs, schema.UserMessage(user))

	var opts []model.Option
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	resp, err := c.chatModel.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", c.provider, err)
	}
	if resp == nil {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Content)
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		c.logger.Debug("completion done",
			"prompt_tokens", resp.ResponseMeta.Usage.PromptTokens,
			"completion_tokens", resp.ResponseMeta.Usage.CompletionTokens,
			"finish_reason", resp.ResponseMeta.FinishReason,
		)
	}
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

// New builds the configured Completer with retries applied.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Completer, error) {
	var (
		base   Completer
		driver = cfg.Driver
	)
	switch driver {
	case "", "http":
		driver = "http"
		base = NewClient(cfg, logger)
	case "eino":
		c, err := NewEinoClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		base = c
	default:
		return nil, fmt.Errorf("unknown llm driver %q", cfg.Driver)
	}
	return WithRetry(base, driver, cfg.MaxRetries, cfg.RetryBackoff, logger), nil
}
