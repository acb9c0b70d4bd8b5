package model

import (
	"fmt"
	"strconv"
	"time"
)

type RuleID string

const (
	RuleCorrelatedStarts RuleID = "CorrelatedStarts"
	RuleOvercurrent      RuleID = "Overcurrent"
	RuleSlopeViolation   RuleID = "SlopeViolation"
)

// GlobalKey is the window key used when session starts are correlated across all sources.
const GlobalKey = "global"

type Stream string

const (
	StreamSession Stream = "session"
	StreamSignal  Stream = "signal"
)

type SessionEvent struct {
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
	Transport  string    `json:"transport,omitempty"`
}

type SignalSample struct {
	EntityKey  string    `json:"entity_key"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Transport  string    `json:"transport,omitempty"`
}

type ChannelState struct {
	LastValue      float64   `json:"last_value"`
	LastObservedAt time.Time `json:"last_observed_at"`
}

// AlertDetail carries the rule-specific evidence. Correlation alerts fill Count and Window,
// signal alerts fill Value and Limit or Delta. The slope fields are always encoded because zero
// is a meaningful previous value.
type AlertDetail struct {
	Count         int           `json:"count,omitempty"`
	Window        time.Duration `json:"window,omitempty"`
	Value         float64       `json:"value,omitempty"`
	Limit         float64       `json:"limit,omitempty"`
	Delta         float64       `json:"delta"`
	Threshold     float64       `json:"threshold"`
	PreviousValue float64       `json:"previous_value"`
}

type AlertRecord struct {
	RuleID     RuleID      `json:"rule_id"`
	Key        string      `json:"key"`
	ObservedAt time.Time   `json:"observed_at"`
	Detail     AlertDetail `json:"detail"`
}

// Stream reports which detector family produced the alert.
func (a AlertRecord) Stream() Stream {
	if a.RuleID == RuleCorrelatedStarts {
		return StreamSession
	}
	return StreamSignal
}

// String renders the operator-facing line, e.g.
// "[ALERT][CorrelatedStarts] key=global count=5 window=2s at 2026-01-01T00:00:00.9Z".
func (a AlertRecord) String() string {
	at := a.ObservedAt.UTC().Format(time.RFC3339Nano)
	switch a.RuleID {
	case RuleCorrelatedStarts:
		return fmt.Sprintf("[ALERT][%s] key=%s count=%d window=%ss at %s",
			a.RuleID, a.Key, a.Detail.Count, formatNumber(a.Detail.Window.Seconds()), at)
	case RuleOvercurrent:
		return fmt.Sprintf("[ALERT][%s] key=%s value=%s limit=%s at %s",
			a.RuleID, a.Key, formatNumber(a.Detail.Value), formatNumber(a.Detail.Limit), at)
	case RuleSlopeViolation:
		return fmt.Sprintf("[ALERT][%s] key=%s value=%s delta=%s at %s",
			a.RuleID, a.Key, formatNumber(a.Detail.Value), formatNumber(a.Detail.Delta), at)
	}
	return fmt.Sprintf("[ALERT][%s] key=%s at %s", a.RuleID, a.Key, at)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// KeyState is a point-in-time copy of a detector's per-key state, published for the operator API.
type KeyState struct {
	Stream      Stream    `json:"stream"`
	Key         string    `json:"key"`
	WindowCount int       `json:"window_count,omitempty"`
	LastValue   float64   `json:"last_value,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}
