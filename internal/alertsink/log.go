package alertsink

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

// LogSink writes every alert to the log, escalating the level with severity.
type LogSink struct {
	logger *zap.SugaredLogger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("alerts").Sugar()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, a surveillance.Alert) error {
	fields := []any{
		"alert_id", a.ID,
		"pattern", a.Pattern,
		"severity", a.Severity.String(),
		"instrument", a.Instrument,
		"account_id", a.AccountID,
		"confidence", a.Confidence,
		"risk_score", a.RiskScore,
		"trade_ids", a.TradeIDs,
	}
	switch a.Severity {
	case surveillance.SeverityCritical:
		s.logger.Errorw("CRITICAL surveillance alert", fields...)
	case surveillance.SeverityHigh:
		s.logger.Warnw("High severity surveillance alert", fields...)
	default:
		s.logger.Infow("Surveillance alert", fields...)
	}
	return nil
}
