package meter

import (
	"log/slog"

	"github.com/journalmuse/taskrouter"
)

// LogMeter logs dispatch events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ taskrouter.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRoute(e taskrouter.RouteEvent) {
	m.Logger.Info("route",
		"task", e.Task,
		"model", e.Model,
		"caller", e.CallerID,
		"attempt", e.Attempt,
		"estimated_tokens", e.EstimatedTokens,
	)
}

func (m *LogMeter) OnResult(e taskrouter.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"task", e.Task,
			"model", e.Model,
			"caller", e.CallerID,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
	} else {
		m.Logger.Warn("result_error",
			"task", e.Task,
			"model", e.Model,
			"caller", e.CallerID,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
	}
}

func (m *LogMeter) OnLedgerError(e taskrouter.LedgerErrorEvent) {
	m.Logger.Error("ledger_write_failed",
		"entry_id", e.Entry.ID,
		"caller", e.Entry.CallerID,
		"model", e.Entry.Model,
		"total_tokens", e.Entry.TotalTokens,
		"error", e.Err,
	)
}
