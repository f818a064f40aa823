package taskrouter

// Inline images bill at a flat per-image rate on the Gemini API.
const mediaPartTokens = 258

// EstimateTokens provides a rough preflight token count for a payload,
// carried on route events for observability. Actual accounting always uses
// the usage reported by the backend.
func EstimateTokens(p PromptPayload) int64 {
	var total int64
	for _, part := range p.Parts {
		if part.Data != nil {
			total += mediaPartTokens
			continue
		}
		// ~4 chars per token, plus formatting overhead per part.
		total += int64(len(part.Text))/4 + 4
	}
	total += 3
	return total
}
