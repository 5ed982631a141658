package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexbrief/internal/logger"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.5-flash-lite"
	// DefaultSystemInstruction is sent when a request carries none.
	DefaultSystemInstruction = "You are a helpful assistant."
)

// GeminiConfig configures the REST client. Zero values fall back to the public
// endpoint, the default model, and DefaultRetryPolicy.
type GeminiConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Logger     *zap.Logger
}

// GeminiClient calls the generateContent REST endpoint directly.
type GeminiClient struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	retry   RetryPolicy
	log     *zap.Logger
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 120 * time.Second}
	}
	return &GeminiClient{
		baseURL: base,
		model:   model,
		apiKey:  cfg.APIKey,
		http:    hc,
		retry:   cfg.Retry.withDefaults(),
		log:     logger.OrGlobal(cfg.Logger),
	}
}

type geminiPart struct {
	Text *string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
}

func textPart(s string) geminiPart { return geminiPart{Text: &s} }

// Generate sends one generateContent call, retrying rate-limited attempts per the
// client's policy.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	system := req.SystemInstruction
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemInstruction
	}
	body := geminiRequest{
		Contents:          []geminiContent{{Parts: []geminiPart{textPart(req.Prompt)}}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{textPart(system)}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode gemini request: %w", err)
	}

	var text string
	attempts, err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		out, err := c.post(ctx, payload)
		if err != nil {
			if IsRateLimited(err) {
				c.log.Warn("gemini rate limited", zap.Int("attempt", attempt+1))
			}
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		c.log.Error("gemini generate failed", zap.Int("attempts", attempts), zap.Error(err))
		return "", err
	}
	return text, nil
}

func (c *GeminiClient) endpoint(key string) string {
	q := url.Values{}
	q.Set("key", key)
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?%s", c.baseURL, url.PathEscape(c.model), q.Encode())
}

// redact swaps the request URL inside a *url.Error for one without the API key.
func (c *GeminiClient) redact(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{Op: urlErr.Op, URL: c.endpoint("REDACTED"), Err: urlErr.Err}
}

func (c *GeminiClient) post(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.apiKey), bytes.NewReader(payload))
	if err != nil {
		return "", &RemoteModelError{Err: c.redact(err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &RemoteModelError{Err: c.redact(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", &RemoteModelError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RemoteModelError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &RemoteModelError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode gemini response: %w", err)}
	}
	return firstText(decoded), nil
}

func firstText(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return NoResponse
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0].Text == nil {
		return NoText
	}
	return *content.Parts[0].Text
}
