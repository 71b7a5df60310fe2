package gengateway

import "time"

// Meter observes gateway events for monitoring/logging.
type Meter interface {
	// OnAttempt is called before an admitted attempt contacts the provider.
	OnAttempt(event AttemptEvent)

	// OnResult is called when a provider attempt returns.
	OnResult(event ResultEvent)

	// OnOutcome is called once per Generate with the final result.
	OnOutcome(event OutcomeEvent)
}

// AttemptEvent describes one provider attempt.
type AttemptEvent struct {
	RequestID   string
	Kind        ContentKind
	Provider    string
	Model       string
	Temperature float64
	AttemptNum  int
}

// ResultEvent describes the outcome of a provider call.
type ResultEvent struct {
	RequestID string
	Kind      ContentKind
	Provider  string
	Model     string
	Success   bool
	Duration  time.Duration
	Class     ErrorClass
	Error     error
}

// OutcomeEvent describes how a Generate call was served.
type OutcomeEvent struct {
	RequestID    string
	Kind         ContentKind
	FromCache    bool
	UsedFallback bool
	Diagnostic   string
	Duration     time.Duration
}

type noopMeter struct{}

func (noopMeter) OnAttempt(AttemptEvent) {}
func (noopMeter) OnResult(ResultEvent)   {}
func (noopMeter) OnOutcome(OutcomeEvent) {}
