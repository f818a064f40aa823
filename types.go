package taskrouter

import "time"

// PromptPayload is the content sent to a backend model. A payload is a
// sequence of parts: plain text, or inline media such as a voice note or a
// photographed journal page.
type PromptPayload struct {
	Parts []Part
}

// Part is one piece of a prompt. Exactly one of Text or Data is set.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// Text builds a payload with a single text part.
func Text(s string) PromptPayload {
	return PromptPayload{Parts: []Part{{Text: s}}}
}

// InlineData builds a media part from raw bytes and a MIME type
// (e.g. "audio/ogg", "image/jpeg").
func InlineData(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// Usage represents token usage for one backend call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// DispatchRequest describes one unit of AI work to route.
type DispatchRequest struct {
	// Task selects the candidate models (e.g. "analysis", "transcription").
	// Empty means the configured default task.
	Task string

	// Payload is the prompt content forwarded to the selected backend.
	Payload PromptPayload

	// CallerID attributes the resulting ledger entry (the journaling user).
	CallerID string

	// Optional per-call generation overrides.
	Temperature     *float64
	MaxOutputTokens *int
}

// Outcome is the result of a successful dispatch.
type Outcome struct {
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
	Latency      time.Duration
	Attempts     int
}

// Attempt records the terminal error observed on one candidate model during
// a dispatch. Carried by AllExhaustedError for diagnostics.
type Attempt struct {
	Model string
	Err   error
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
