package surveillance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity orders alerts for triage. Higher is worse.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", string(text))
	}
	return nil
}

// SeverityForConfidence maps a confidence score onto the severity scale.
func SeverityForConfidence(confidence float64) Severity {
	switch {
	case confidence >= 90:
		return SeverityCritical
	case confidence >= 75:
		return SeverityHigh
	case confidence >= 60:
		return SeverityMedium
	}
	return SeverityLow
}

// AlertStatus tracks investigation progress downstream of the engine.
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusClosed        AlertStatus = "closed"
)

// Alert is emitted by a detector when evidence crosses its threshold.
type Alert struct {
	ID          uuid.UUID         `json:"id"`
	Pattern     string            `json:"pattern"`
	Severity    Severity          `json:"severity"`
	Status      AlertStatus       `json:"status"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	RiskScore   float64           `json:"risk_score"`
	Confidence  float64           `json:"confidence"`
	DetectedAt  time.Time         `json:"detected_at"`
	Instrument  string            `json:"instrument"`
	AccountID   string            `json:"account_id"`
	TradeIDs    []string          `json:"trade_ids"`
	OrderIDs    []string          `json:"order_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// stamp fills the fields the engine owns and clamps scores into range.
func (a *Alert) stamp(pattern string, ev *TradeEvent, now time.Time) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Pattern == "" {
		a.Pattern = pattern
	}
	if a.Status == "" {
		a.Status = AlertStatusOpen
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = now
	}
	if a.Instrument == "" {
		a.Instrument = ev.Instrument
	}
	if a.AccountID == "" {
		a.AccountID = ev.AccountID
	}
	if !containsString(a.TradeIDs, ev.ID) {
		a.TradeIDs = append(a.TradeIDs, ev.ID)
	}
	if ev.OrderID != "" && !containsString(a.OrderIDs, ev.OrderID) {
		a.OrderIDs = append(a.OrderIDs, ev.OrderID)
	}
	a.RiskScore = clampScore(a.RiskScore)
	a.Confidence = clampScore(a.Confidence)
	if a.Severity == 0 {
		a.Severity = SeverityForConfidence(a.Confidence)
	}
}

func clampScore(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
