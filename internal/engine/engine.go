package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"evguard/internal/config"
	"evguard/internal/metrics"
	"evguard/internal/model"
)

// AlertSink receives alerts in the order a detector emits them. Deliver must return within its
// own bounded timeout.
type AlertSink interface {
	Deliver(ctx context.Context, alert model.AlertRecord) error
}

// Engine drives the two detector families, each from its own inbound channel.
type Engine struct {
	logger      *slog.Logger
	sink        AlertSink
	state       *metrics.Store
	collectors  *metrics.Collectors
	correlation *CorrelationDetector
	signal      *SignalDetector
}

func NewEngine(cfg config.DetectionConfig, sink AlertSink, logger *slog.Logger, state *metrics.Store, collectors *metrics.Collectors) *Engine {
	return &Engine{
		logger:      logger,
		sink:        sink,
		state:       state,
		collectors:  collectors,
		correlation: NewCorrelationDetector(cfg.Correlation),
		signal:      NewSignalDetector(cfg.Signal),
	}
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.correlation.UpdateConfig(cfg.Detection.Correlation)
	e.signal.UpdateConfig(cfg.Detection.Signal)
	if e.logger != nil {
		e.logger.Info("detection thresholds updated",
			"window_duration", cfg.Detection.Correlation.WindowDuration.String(),
			"count_threshold", cfg.Detection.Correlation.CountThreshold,
			"scope", cfg.Detection.Correlation.Scope,
			"max_allowed", cfg.Detection.Signal.MaxAllowed,
			"slope_threshold", cfg.Detection.Signal.SlopeThreshold,
		)
	}
}

// Run blocks until both inputs are closed or ctx is cancelled. An observation already in progress
// finishes, including its alert delivery, before the loop exits.
func (e *Engine) Run(ctx context.Context, sessions <-chan model.SessionEvent, samples <-chan model.SignalSample) error {
	var g errgroup.Group
	g.Go(func() error {
		drain(ctx, sessions, func(ev model.SessionEvent) { e.ProcessSession(ctx, ev) })
		return nil
	})
	g.Go(func() error {
		drain(ctx, samples, func(s model.SignalSample) { e.ProcessSample(ctx, s) })
		return nil
	})
	return g.Wait()
}

func drain[T any](ctx context.Context, in <-chan T, fn func(T)) {
	if in == nil {
		return
	}
	for {
		select {
		case v, ok := <-in:
			if !ok {
				return
			}
			fn(v)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessSession evaluates one session event. Calls must come from a single goroutine.
func (e *Engine) ProcessSession(ctx context.Context, ev model.SessionEvent) []model.AlertRecord {
	start := time.Now()
	state, alerts := e.correlation.evaluate(ev)
	e.publish(ctx, state, alerts)
	e.collectors.Observed(model.StreamSession, time.Since(start))
	return alerts
}

// ProcessSample evaluates one signal sample. Calls must come from a single goroutine.
func (e *Engine) ProcessSample(ctx context.Context, s model.SignalSample) []model.AlertRecord {
	start := time.Now()
	state, alerts := e.signal.evaluate(s)
	e.publish(ctx, state, alerts)
	e.collectors.Observed(model.StreamSignal, time.Since(start))
	return alerts
}

func (e *Engine) publish(ctx context.Context, state model.KeyState, alerts []model.AlertRecord) {
	e.state.Update(state)
	if e.sink == nil {
		return
	}
	for _, alert := range alerts {
		if err := e.sink.Deliver(ctx, alert); err != nil && e.logger != nil {
			e.logger.Debug("alert delivery incomplete", "rule_id", alert.RuleID, "key", alert.Key, "err", err)
		}
	}
}
