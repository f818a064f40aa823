// Package gemini adapts the Google Generative Language API ("Gemini") to
// the taskrouter Backend interface. Supports multimodal prompts: text parts
// plus inline media such as voice notes and photographed journal pages.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/journalmuse/taskrouter"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Backend is the Gemini API adapter.
type Backend struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ taskrouter.Backend = (*Backend)(nil)

// Option configures the backend.
type Option func(*Backend)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(b *Backend) { b.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// New creates a new Gemini backend with the given API key.
func New(apiKey string, opts ...Option) *Backend {
	b := &Backend{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "gemini" }

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (b *Backend) Generate(ctx context.Context, req taskrouter.BackendRequest) (taskrouter.BackendResponse, error) {
	body := buildRequest(req)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", b.baseURL, req.Model, b.apiKey)

	httpResp, err := b.doRequest(ctx, url, body)
	if err != nil {
		return taskrouter.BackendResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return taskrouter.BackendResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return taskrouter.BackendResponse{}, fmt.Errorf("taskrouter: decode gemini response: %w", err)
	}

	usage := taskrouter.Usage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      resp.UsageMetadata.TotalTokenCount,
	}

	if resp.PromptFeedback.BlockReason != "" {
		return taskrouter.BackendResponse{Usage: usage},
			fmt.Errorf("%w: %s", taskrouter.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 {
		return taskrouter.BackendResponse{Usage: usage},
			fmt.Errorf("taskrouter: empty candidates in gemini response")
	}

	content := ""
	if len(resp.Candidates[0].Content.Parts) > 0 {
		content = resp.Candidates[0].Content.Parts[0].Text
	}

	return taskrouter.BackendResponse{
		Content:      content,
		FinishReason: strings.ToLower(resp.Candidates[0].FinishReason),
		Usage:        usage,
	}, nil
}

func buildRequest(req taskrouter.BackendRequest) geminiRequest {
	parts := make([]geminiPart, 0, len(req.Payload.Parts))
	for _, p := range req.Payload.Parts {
		if p.Data != nil {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MIMEType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
			continue
		}
		parts = append(parts, geminiPart{Text: p.Text})
	}

	gr := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}

	if req.Temperature != nil || req.MaxOutputTokens != nil {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		}
	}

	return gr
}

func (b *Backend) doRequest(ctx context.Context, url string, body geminiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("taskrouter: marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("taskrouter: create gemini request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, taskrouter.ErrBackendUnavailable
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

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
