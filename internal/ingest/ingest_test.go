package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"evguard/internal/clock"
	"evguard/internal/normalize"
)

func newTestIngress(buffer int) *Ingress {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	d := NewDecoder(clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	return NewIngress(d, buffer, logger, nil)
}

func TestIngressRoutesStreams(t *testing.T) {
	in := newTestIngress(4)
	ctx := context.Background()
	if err := in.HandleSession(ctx, []byte(`{"source":"CP-1"}`), "10.0.0.1:1", "udp"); err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := in.HandleFrame(ctx, []byte{50, 1, 0, 0}, "udp"); err != nil {
		t.Fatalf("frame: %v", err)
	}
	ev := <-in.Sessions()
	if ev.Source != "CP-1" || ev.Transport != "udp" {
		t.Fatalf("unexpected session %+v", ev)
	}
	s := <-in.Samples()
	if s.EntityKey != "1" || s.Value != 50 || s.Transport != "udp" {
		t.Fatalf("unexpected sample %+v", s)
	}
}

func TestIngressMalformedDropped(t *testing.T) {
	in := newTestIngress(4)
	ctx := context.Background()
	if err := in.HandleSession(ctx, []byte(`{}`), "", "kafka"); !errors.Is(err, normalize.ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if err := in.HandleFrame(ctx, []byte{50, 1}, "udp"); !errors.Is(err, normalize.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	if len(in.Sessions()) != 0 || len(in.Samples()) != 0 {
		t.Fatalf("malformed records must not be routed")
	}
}

func TestIngressBackpressure(t *testing.T) {
	in := newTestIngress(1)
	ctx := context.Background()
	if err := in.HandleFrameLine(ctx, "10,1,0,0", "tcp"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := in.HandleFrameLine(ctx, "11,1,0,0", "tcp"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := in.HandleFrameLine(ctx, "", "tcp"); err != nil {
		t.Fatalf("blank line should be ignored, got %v", err)
	}
}

func TestIngressClose(t *testing.T) {
	in := newTestIngress(4)
	ctx := context.Background()
	_ = in.HandleFrameFields(ctx, []string{"5", "2", "0", "0"}, "rest")
	in.Close()
	in.Close()
	if err := in.HandleFrameFields(ctx, []string{"6", "2", "0", "0"}, "rest"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	var got int
	for range in.Samples() {
		got++
	}
	if got != 1 {
		t.Fatalf("expected buffered sample to drain, got %d", got)
	}
	if _, ok := <-in.Sessions(); ok {
		t.Fatalf("sessions channel should be closed")
	}
}

func TestRESTSessions(t *testing.T) {
	in := newTestIngress(4)
	srv := httptest.NewServer(NewRESTServer(in, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(`{"chargeBoxId":"CP-3"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var res ingestResult
	_ = json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || res.Accepted != 1 {
		t.Fatalf("status %d result %+v", resp.StatusCode, res)
	}
	if ev := <-in.Sessions(); ev.Source != "CP-3" || ev.Transport != "rest" {
		t.Fatalf("unexpected session %+v", ev)
	}

	// no identity in the payload: the caller's host is used
	resp, err = http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(`{"connectorId":1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if ev := <-in.Sessions(); ev.Source != "127.0.0.1" {
		t.Fatalf("expected sender fallback, got %+v", ev)
	}

	resp, err = http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestRESTSamples(t *testing.T) {
	in := newTestIngress(8)
	srv := httptest.NewServer(NewRESTServer(in, nil).Handler())
	defer srv.Close()

	post := func(body string) (int, ingestResult) {
		t.Helper()
		resp, err := http.Post(srv.URL+"/samples", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var res ingestResult
		_ = json.NewDecoder(resp.Body).Decode(&res)
		return resp.StatusCode, res
	}

	if code, res := post(`[50,1,0,0]`); code != http.StatusOK || res.Accepted != 1 {
		t.Fatalf("single frame: %d %+v", code, res)
	}
	if code, res := post(`[[10,2,0,0],["12.5","2",0,0],[1,2]]`); code != http.StatusOK || res.Accepted != 2 || res.Failed != 1 {
		t.Fatalf("batch: %d %+v", code, res)
	}
	if code, _ := post(`[-1,2,0,0]`); code != http.StatusUnprocessableEntity {
		t.Fatalf("negative current should be rejected, got %d", code)
	}
	if code, _ := post(`{"value":1}`); code != http.StatusBadRequest {
		t.Fatalf("object body should be rejected, got %d", code)
	}

	want := []float64{50, 10, 12.5}
	for i, v := range want {
		s := <-in.Samples()
		if s.Value != v {
			t.Fatalf("sample %d: got %v want %v", i, s.Value, v)
		}
	}
}
