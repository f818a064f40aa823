// Package openaicompat adapts any OpenAI-compatible chat completions API
// (OpenAI, Grok/xAI, Together, Ollama, and others) to the taskrouter
// Backend interface. Text prompts only; inline media is rejected as an
// invalid request.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/journalmuse/taskrouter"
)

// Backend is a universal OpenAI-compatible API adapter.
type Backend struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ taskrouter.Backend = (*Backend)(nil)

// Option configures the backend.
type Option func(*Backend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// New creates a new OpenAI-compatible backend.
func New(name, baseURL, apiKey string, opts ...Option) *Backend {
	b := &Backend{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewOpenAI creates a backend for OpenAI.
func NewOpenAI(apiKey string, opts ...Option) *Backend {
	return New("openai", "https://api.openai.com/v1", apiKey, opts...)
}

func (b *Backend) Name() string { return b.name }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (b *Backend) Generate(ctx context.Context, req taskrouter.BackendRequest) (taskrouter.BackendResponse, error) {
	var text strings.Builder
	for _, p := range req.Payload.Parts {
		if p.Data != nil {
			return taskrouter.BackendResponse{},
				fmt.Errorf("%w: backend %s does not accept inline media", taskrouter.ErrInvalidRequest, b.name)
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(p.Text)
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: text.String()}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return taskrouter.BackendResponse{}, fmt.Errorf("taskrouter: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return taskrouter.BackendResponse{}, fmt.Errorf("taskrouter: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return taskrouter.BackendResponse{}, ctx.Err()
		}
		return taskrouter.BackendResponse{}, taskrouter.ErrBackendUnavailable
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return taskrouter.BackendResponse{}, err
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return taskrouter.BackendResponse{}, fmt.Errorf("taskrouter: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return taskrouter.BackendResponse{}, fmt.Errorf("taskrouter: empty choices in response")
	}

	return taskrouter.BackendResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: taskrouter.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return taskrouter.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return taskrouter.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", taskrouter.ErrInvalidRequest, string(body))
	default:
		return taskrouter.ErrBackendUnavailable
	}
}
