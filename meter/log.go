package meter

import (
	"context"
	"log/slog"

	gen "github.com/ineyio/gengateway"
)

// LogMeter logs gateway events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ gen.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e gen.AttemptEvent) {
	m.Logger.Info("attempt",
		"request_id", e.RequestID,
		"kind", e.Kind,
		"provider", e.Provider,
		"model", e.Model,
		"temperature", e.Temperature,
		"attempt", e.AttemptNum,
	)
}

func (m *LogMeter) OnResult(e gen.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"kind", e.Kind,
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"kind", e.Kind,
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"class", e.Class.String(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnOutcome(e gen.OutcomeEvent) {
	level := slog.LevelInfo
	if e.UsedFallback {
		level = slog.LevelWarn
	}
	m.Logger.Log(context.Background(), level, "outcome",
		"request_id", e.RequestID,
		"kind", e.Kind,
		"from_cache", e.FromCache,
		"used_fallback", e.UsedFallback,
		"diagnostic", e.Diagnostic,
		"duration_ms", e.Duration.Milliseconds(),
	)
}
