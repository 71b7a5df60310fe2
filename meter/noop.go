package meter

import gen "github.com/ineyio/gengateway"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ gen.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAttempt(gen.AttemptEvent) {}
func (m *NoopMeter) OnResult(gen.ResultEvent)   {}
func (m *NoopMeter) OnOutcome(gen.OutcomeEvent) {}
