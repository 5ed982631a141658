package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"lexbrief/internal/config"
	"lexbrief/internal/logger"
)

// EinoModel adapts an eino chat model to Model.
type EinoModel struct {
	chat  model.BaseChatModel
	retry RetryPolicy
	log   *zap.Logger
}

func NewEinoModel(chat model.BaseChatModel, retry RetryPolicy, log *zap.Logger) *EinoModel {
	return &EinoModel{chat: chat, retry: retry.withDefaults(), log: logger.OrGlobal(log)}
}

func (m *EinoModel) Generate(ctx context.Context, req Request) (string, error) {
	system := req.SystemInstruction
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemInstruction
	}
	msgs := []*schema.Message{schema.SystemMessage(system), schema.UserMessage(req.Prompt)}

	var text string
	attempts, err := m.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := m.chat.Generate(ctx, msgs)
		if err != nil {
			return classifyProviderError(err)
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			text = NoResponse
			return nil
		}
		text = resp.Content
		return nil
	})
	if err != nil {
		m.log.Error("chat model generate failed", zap.Int("attempts", attempts), zap.Error(err))
		return "", err
	}
	return text, nil
}

// classifyProviderError maps SDK errors onto RemoteModelError so the retry policy
// can recognise rate limiting regardless of provider.
func classifyProviderError(err error) error {
	var rme *RemoteModelError
	if errors.As(err, &rme) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &RemoteModelError{StatusCode: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &RemoteModelError{StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message, Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests") {
		return &RemoteModelError{StatusCode: http.StatusTooManyRequests, Err: err}
	}
	return &RemoteModelError{Err: err}
}

// PolicyFromConfig builds the retry policy described by the model section.
func PolicyFromConfig(cfg config.ModelConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		p.Backoff = ExponentialBackoff(time.Duration(cfg.BackoffBase) * time.Millisecond)
	}
	return p
}

// New builds the configured provider. "gemini" talks REST directly; "gemini-sdk",
// "openai" and "claude" go through eino chat models.
func New(ctx context.Context, cfg config.ModelConfig, log *zap.Logger) (Model, error) {
	log = logger.OrGlobal(log)
	policy := PolicyFromConfig(cfg)
	var httpClient *http.Client
	if cfg.HTTPTimeout > 0 {
		httpClient = &http.Client{Timeout: time.Duration(cfg.HTTPTimeout) * time.Second}
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGeminiClient(GeminiConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			HTTPClient: httpClient,
			Retry:      policy,
			Logger:     log,
		}), nil
	case "gemini-sdk":
		clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
		if cfg.BaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
		}
		if httpClient != nil {
			clientCfg.HTTPClient = httpClient
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		modelName := cfg.Model
		if modelName == "" {
			modelName = DefaultGeminiModel
		}
		chat, err := gemini.NewChatModel(ctx, &gemini.Config{Client: client, Model: modelName})
		if err != nil {
			return nil, fmt.Errorf("create gemini chat model: %w", err)
		}
		return NewEinoModel(chat, policy, log), nil
	case "openai":
		chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: time.Duration(cfg.HTTPTimeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai chat model: %w", err)
		}
		return NewEinoModel(chat, policy, log), nil
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		chat, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			MaxTokens: 3000,
		})
		if err != nil {
			return nil, fmt.Errorf("create claude chat model: %w", err)
		}
		return NewEinoModel(chat, policy, log), nil
	default:
		return nil, fmt.Errorf("invalid model provider: %s", cfg.Provider)
	}
}
