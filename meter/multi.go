package meter

import gen "github.com/ineyio/gengateway"

// Multi fans every event out to each meter in order.
type Multi []gen.Meter

var _ gen.Meter = Multi(nil)

func (m Multi) OnAttempt(e gen.AttemptEvent) {
	for _, mm := range m {
		mm.OnAttempt(e)
	}
}

func (m Multi) OnResult(e gen.ResultEvent) {
	for _, mm := range m {
		mm.OnResult(e)
	}
}

func (m Multi) OnOutcome(e gen.OutcomeEvent) {
	for _, mm := range m {
		mm.OnOutcome(e)
	}
}
