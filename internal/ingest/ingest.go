package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"evguard/internal/metrics"
	"evguard/internal/model"
)

// ErrQueueFull is returned when a record was decoded but its stream's channel had no room.
var ErrQueueFull = errors.New("ingest queue full")

// ErrClosed is returned for records that arrive after Close.
var ErrClosed = errors.New("ingest closed")

// Ingress decodes payloads from every transport and routes them onto one bounded channel per
// stream. It owns both channels and closes them in Close.
type Ingress struct {
	decoder    *Decoder
	logger     *slog.Logger
	collectors *metrics.Collectors

	mu       sync.RWMutex
	closed   bool
	sessions chan model.SessionEvent
	samples  chan model.SignalSample
}

func NewIngress(decoder *Decoder, buffer int, logger *slog.Logger, collectors *metrics.Collectors) *Ingress {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Ingress{
		decoder:    decoder,
		logger:     logger,
		collectors: collectors,
		sessions:   make(chan model.SessionEvent, buffer),
		samples:    make(chan model.SignalSample, buffer),
	}
}

func (in *Ingress) Sessions() <-chan model.SessionEvent {
	return in.sessions
}

func (in *Ingress) Samples() <-chan model.SignalSample {
	return in.samples
}

// Close stops routing and closes both channels so the detectors drain and exit.
func (in *Ingress) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	close(in.sessions)
	close(in.samples)
}

// HandleSession decodes and routes one session payload.
func (in *Ingress) HandleSession(ctx context.Context, raw []byte, sender, transport string) error {
	ev, err := in.decoder.IngestSessionEvent(raw, sender)
	if err != nil {
		in.malformed(model.StreamSession, transport, sender, err)
		return err
	}
	ev.Transport = transport
	return route(ctx, in, in.sessions, ev, model.StreamSession, ev.Source)
}

// HandleFrame decodes and routes one binary bus frame.
func (in *Ingress) HandleFrame(ctx context.Context, frame []byte, transport string) error {
	s, err := in.decoder.IngestSignalSample(frame)
	if err != nil {
		in.malformed(model.StreamSignal, transport, "", err)
		return err
	}
	return in.routeSample(ctx, s, transport)
}

// HandleFrameLine decodes and routes one text frame. Blank and comment lines are ignored.
func (in *Ingress) HandleFrameLine(ctx context.Context, line, transport string) error {
	s, ok, err := in.decoder.IngestSignalLine(line)
	if err != nil {
		in.malformed(model.StreamSignal, transport, "", err)
		return err
	}
	if !ok {
		return nil
	}
	return in.routeSample(ctx, s, transport)
}

// HandleFrameFields routes a frame whose fields were already split by the transport.
func (in *Ingress) HandleFrameFields(ctx context.Context, fields []string, transport string) error {
	s, err := in.decoder.IngestSignalFields(fields)
	if err != nil {
		in.malformed(model.StreamSignal, transport, "", err)
		return err
	}
	return in.routeSample(ctx, s, transport)
}

func (in *Ingress) routeSample(ctx context.Context, s model.SignalSample, transport string) error {
	s.Transport = transport
	return route(ctx, in, in.samples, s, model.StreamSignal, s.EntityKey)
}

func route[T any](ctx context.Context, in *Ingress, out chan T, v T, stream model.Stream, key string) error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		return ErrClosed
	}
	if SendNonBlocking[T](ctx, out, v) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	in.collectors.Dropped(stream, metrics.DropBackpressure)
	if in.logger != nil {
		in.logger.Warn("ingest channel full, dropping record", "stream", stream, "key", key)
	}
	return ErrQueueFull
}

func (in *Ingress) malformed(stream model.Stream, transport, sender string, err error) {
	in.collectors.Dropped(stream, metrics.DropMalformed)
	if in.logger != nil {
		in.logger.Warn("dropping malformed record",
			"stream", stream,
			"transport", transport,
			"sender", sender,
			"err", err,
		)
	}
}

func SendNonBlocking[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
