package taskrouter

import "context"

// Backend is the interface that generative-AI adapters must implement.
// Adapters classify raw failures into the package's sentinel errors so the
// router never interprets provider-specific status codes or error text.
type Backend interface {
	// Name returns the backend identifier (e.g. "gemini", "openai").
	Name() string

	// Generate performs one model invocation. Implementations must honor
	// ctx cancellation and deadlines.
	Generate(ctx context.Context, req BackendRequest) (BackendResponse, error)
}

// BackendRequest is the request sent to a backend adapter.
type BackendRequest struct {
	Model   string
	Payload PromptPayload

	Temperature     *float64
	MaxOutputTokens *int
}

// BackendResponse is the response from a backend adapter.
type BackendResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}
