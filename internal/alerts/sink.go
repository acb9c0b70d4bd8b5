package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"evguard/internal/metrics"
	"evguard/internal/model"
)

// ErrAlertDeliveryFailed marks an alert that did not reach an external forwarder in time.
var ErrAlertDeliveryFailed = errors.New("alert delivery failed")

// Forwarder hands alerts to an external collaborator. Implementations must be safe for
// concurrent use and should honor ctx.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, alert model.AlertRecord) error
}

// Sink fans an alert out to the log stream, the metrics registry, the operator ring and any
// forwarders. Both detectors share one Sink.
type Sink struct {
	logger     *slog.Logger
	store      *Store
	collectors *metrics.Collectors
	timeout    atomic.Int64

	mu         sync.RWMutex
	forwarders []Forwarder
}

func NewSink(store *Store, logger *slog.Logger, collectors *metrics.Collectors, timeout time.Duration) *Sink {
	s := &Sink{logger: logger, store: store, collectors: collectors}
	s.SetTimeout(timeout)
	return s
}

func (s *Sink) AddForwarder(f Forwarder) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarders = append(s.forwarders, f)
	if s.logger != nil {
		s.logger.Info("alert forwarder registered", "forwarder", f.Name())
	}
}

// SetTimeout bounds each Deliver call's wait on forwarders.
func (s *Sink) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = 250 * time.Millisecond
	}
	s.timeout.Store(int64(d))
}

func (s *Sink) Timeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// Deliver records the alert locally and forwards it. It returns within the configured timeout
// even if a forwarder hangs; failures come back wrapped in ErrAlertDeliveryFailed.
func (s *Sink) Deliver(ctx context.Context, alert model.AlertRecord) error {
	if s.logger != nil {
		s.logger.Warn(alert.String(), alertAttrs(alert)...)
	}
	s.collectors.Alert(alert.RuleID)
	if s.store != nil {
		s.store.Add(alert)
	}

	s.mu.RLock()
	forwarders := append([]Forwarder(nil), s.forwarders...)
	s.mu.RUnlock()
	if len(forwarders) == 0 {
		return nil
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout())
	defer cancel()

	errs := make([]error, len(forwarders))
	var wg sync.WaitGroup
	for i, f := range forwarders {
		i, f := i, f
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = forward(fctx, f, alert)
		}()
	}
	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		name := forwarders[i].Name()
		s.collectors.DeliveryFailed(name)
		if s.logger != nil {
			s.logger.Error("alert delivery failed",
				"forwarder", name,
				"rule_id", alert.RuleID,
				"key", alert.Key,
				"err", err,
			)
		}
		failed = append(failed, fmt.Errorf("%w: %s: %w", ErrAlertDeliveryFailed, name, err))
	}
	return errors.Join(failed...)
}

// forward waits for f or the deadline, whichever comes first. A forwarder that ignores ctx is
// left to finish in the background.
func forward(ctx context.Context, f Forwarder, alert model.AlertRecord) error {
	done := make(chan error, 1)
	go func() {
		done <- f.Forward(ctx, alert)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func alertAttrs(alert model.AlertRecord) []any {
	attrs := []any{
		"rule_id", alert.RuleID,
		"key", alert.Key,
		"observed_at", alert.ObservedAt,
	}
	switch alert.RuleID {
	case model.RuleCorrelatedStarts:
		attrs = append(attrs, "count", alert.Detail.Count, "window", alert.Detail.Window.String())
	case model.RuleOvercurrent:
		attrs = append(attrs, "value", alert.Detail.Value, "limit", alert.Detail.Limit)
	case model.RuleSlopeViolation:
		attrs = append(attrs,
			"value", alert.Detail.Value,
			"delta", alert.Detail.Delta,
			"threshold", alert.Detail.Threshold,
			"previous_value", alert.Detail.PreviousValue,
		)
	}
	return attrs
}
