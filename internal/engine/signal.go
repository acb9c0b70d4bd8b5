package engine

import (
	"sync/atomic"

	"evguard/internal/config"
	"evguard/internal/model"
)

// SignalDetector applies the absolute-limit and slope rules to current samples, keeping only the
// last sample per entity. One goroutine owns it.
type SignalDetector struct {
	cfg      atomic.Pointer[config.SignalConfig]
	channels map[string]model.ChannelState
}

func NewSignalDetector(cfg config.SignalConfig) *SignalDetector {
	d := &SignalDetector{channels: make(map[string]model.ChannelState)}
	d.UpdateConfig(cfg)
	return d
}

func (d *SignalDetector) UpdateConfig(cfg config.SignalConfig) {
	d.cfg.Store(&cfg)
}

func (d *SignalDetector) config() config.SignalConfig {
	return *d.cfg.Load()
}

func (d *SignalDetector) Observe(s model.SignalSample) []model.AlertRecord {
	_, alerts := d.evaluate(s)
	return alerts
}

func (d *SignalDetector) evaluate(s model.SignalSample) (model.KeyState, []model.AlertRecord) {
	cfg := d.config()
	var alerts []model.AlertRecord

	if s.Value > cfg.MaxAllowed {
		alerts = append(alerts, model.AlertRecord{
			RuleID:     model.RuleOvercurrent,
			Key:        s.EntityKey,
			ObservedAt: s.ObservedAt,
			Detail: model.AlertDetail{
				Value: s.Value,
				Limit: cfg.MaxAllowed,
			},
		})
	}

	// A sample stamped before the previous one is treated as clock skew: no slope verdict.
	if prev, ok := d.channels[s.EntityKey]; ok && !s.ObservedAt.Before(prev.LastObservedAt) {
		delta := s.Value - prev.LastValue
		if delta > cfg.SlopeThreshold {
			alerts = append(alerts, model.AlertRecord{
				RuleID:     model.RuleSlopeViolation,
				Key:        s.EntityKey,
				ObservedAt: s.ObservedAt,
				Detail: model.AlertDetail{
					Value:         s.Value,
					Delta:         delta,
					Threshold:     cfg.SlopeThreshold,
					PreviousValue: prev.LastValue,
				},
			})
		}
	}

	d.channels[s.EntityKey] = model.ChannelState{LastValue: s.Value, LastObservedAt: s.ObservedAt}

	return model.KeyState{
		Stream:     model.StreamSignal,
		Key:        s.EntityKey,
		LastValue:  s.Value,
		ObservedAt: s.ObservedAt,
	}, alerts
}

// Channel returns the retained state for key.
func (d *SignalDetector) Channel(key string) (model.ChannelState, bool) {
	st, ok := d.channels[key]
	return st, ok
}
