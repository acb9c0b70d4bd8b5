package metrics

import (
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"evguard/internal/model"
)

func TestCollectorsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.Observed(model.StreamSession, time.Millisecond)
	c.Observed(model.StreamSession, time.Millisecond)
	c.Dropped(model.StreamSignal, DropMalformed)
	c.Alert(model.RuleOvercurrent)
	c.DeliveryFailed("kafka")

	if got := testutil.ToFloat64(c.eventsObserved.WithLabelValues("session")); got != 2 {
		t.Fatalf("expected 2 observed session events, got %f", got)
	}
	if got := testutil.ToFloat64(c.ingestDropped.WithLabelValues("signal", DropMalformed)); got != 1 {
		t.Fatalf("expected 1 malformed drop, got %f", got)
	}
	if got := testutil.ToFloat64(c.alerts.WithLabelValues("Overcurrent")); got != 1 {
		t.Fatalf("expected 1 overcurrent alert, got %f", got)
	}
	if got := testutil.ToFloat64(c.deliveryFailures.WithLabelValues("kafka")); got != 1 {
		t.Fatalf("expected 1 delivery failure, got %f", got)
	}
	if n := testutil.CollectAndCount(c.observeLatency); n != 1 {
		t.Fatalf("expected 1 latency series, got %d", n)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *Collectors
	c.Observed(model.StreamSignal, time.Second)
	c.Dropped(model.StreamSignal, DropBackpressure)
	c.Alert(model.RuleSlopeViolation)
	c.DeliveryFailed("journal")
}

func TestStoreUpdateAndEvict(t *testing.T) {
	s := NewStore(2)
	s.Update(model.KeyState{Stream: model.StreamSignal, Key: "1", LastValue: 20})
	time.Sleep(time.Millisecond)
	s.Update(model.KeyState{Stream: model.StreamSignal, Key: "2", LastValue: 30})
	time.Sleep(time.Millisecond)
	s.Update(model.KeyState{Stream: model.StreamSession, Key: model.GlobalKey, WindowCount: 3})

	if _, _, ok := s.Get(model.StreamSignal, "1"); ok {
		t.Fatalf("oldest key should have been evicted")
	}
	st, _, ok := s.Get(model.StreamSession, model.GlobalKey)
	if !ok || st.WindowCount != 3 {
		t.Fatalf("unexpected session state: %+v %v", st, ok)
	}
	if got := s.List(model.StreamSignal); len(got) != 1 || got[0].Key != "2" {
		t.Fatalf("unexpected signal list: %+v", got)
	}
	s.Clear()
	if got := s.List(""); len(got) != 0 {
		t.Fatalf("expected empty store after clear")
	}
}

func TestStoreEvictsLeastRecentlyUpdated(t *testing.T) {
	s := NewStore(2)
	s.Update(model.KeyState{Stream: model.StreamSignal, Key: "1", LastValue: 10})
	s.Update(model.KeyState{Stream: model.StreamSignal, Key: "2", LastValue: 20})
	// refreshing key 1 makes key 2 the eviction candidate
	s.Update(model.KeyState{Stream: model.StreamSignal, Key: "1", LastValue: 11})
	s.Update(model.KeyState{Stream: model.StreamSignal, Key: "3", LastValue: 30})

	if _, _, ok := s.Get(model.StreamSignal, "2"); ok {
		t.Fatalf("least recently updated key should have been evicted")
	}
	if st, _, ok := s.Get(model.StreamSignal, "1"); !ok || st.LastValue != 11 {
		t.Fatalf("refreshed key lost: %+v %v", st, ok)
	}
	for i := 0; i < 10000; i++ {
		s.Update(model.KeyState{Stream: model.StreamSignal, Key: strconv.Itoa(i)})
	}
	if s.Len() != 2 {
		t.Fatalf("store should stay at its limit, got %d", s.Len())
	}
}
