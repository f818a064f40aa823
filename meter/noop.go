package meter

import "github.com/journalmuse/taskrouter"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ taskrouter.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(taskrouter.RouteEvent)             {}
func (m *NoopMeter) OnResult(taskrouter.ResultEvent)           {}
func (m *NoopMeter) OnLedgerError(taskrouter.LedgerErrorEvent) {}
