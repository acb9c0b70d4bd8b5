package engine

import (
	"sync/atomic"
	"time"

	"evguard/internal/config"
	"evguard/internal/model"
)

// CorrelationDetector counts session starts inside a sliding window and flags bursts. It is not
// safe for concurrent Observe calls; one goroutine owns it.
type CorrelationDetector struct {
	cfg     atomic.Pointer[config.CorrelationConfig]
	windows map[string]*WindowState

	// sweep bookkeeping for idle windows
	sinceSweep int
	liveAfter  int
}

// sweepFloor is the minimum number of observations between sweeps of idle windows.
const sweepFloor = 64

func NewCorrelationDetector(cfg config.CorrelationConfig) *CorrelationDetector {
	d := &CorrelationDetector{windows: make(map[string]*WindowState)}
	d.UpdateConfig(cfg)
	return d
}

// UpdateConfig swaps thresholds; safe to call from any goroutine.
func (d *CorrelationDetector) UpdateConfig(cfg config.CorrelationConfig) {
	d.cfg.Store(&cfg)
}

func (d *CorrelationDetector) config() config.CorrelationConfig {
	return *d.cfg.Load()
}

func (d *CorrelationDetector) Observe(ev model.SessionEvent) []model.AlertRecord {
	_, alerts := d.evaluate(ev)
	return alerts
}

func (d *CorrelationDetector) evaluate(ev model.SessionEvent) (model.KeyState, []model.AlertRecord) {
	cfg := d.config()
	key := model.GlobalKey
	if cfg.Scope == config.ScopeSource && ev.Source != "" {
		key = ev.Source
	}
	window, ok := d.windows[key]
	if !ok {
		window = NewWindowState()
		d.windows[key] = window
	}

	ts := window.Add(ev.ObservedAt)
	window.Evict(ts.Add(-cfg.WindowDuration))
	count := window.Len()

	state := model.KeyState{
		Stream:      model.StreamSession,
		Key:         key,
		WindowCount: count,
		ObservedAt:  ts,
	}
	d.maybeSweep(key, ts.Add(-cfg.WindowDuration))

	if count < cfg.CountThreshold {
		return state, nil
	}
	return state, []model.AlertRecord{{
		RuleID:     model.RuleCorrelatedStarts,
		Key:        key,
		ObservedAt: ts,
		Detail: model.AlertDetail{
			Count:  count,
			Window: cfg.WindowDuration,
		},
	}}
}

// maybeSweep evicts every other window against cutoff and drops the ones left empty. It runs
// once the observations since the last sweep reach the number of windows that survived it, so
// the cost stays amortized constant per observation and the map stays within about twice the
// number of live windows.
func (d *CorrelationDetector) maybeSweep(current string, cutoff time.Time) {
	d.sinceSweep++
	if d.sinceSweep < max(d.liveAfter, sweepFloor) {
		return
	}
	for key, w := range d.windows {
		if key == current {
			continue
		}
		w.Evict(cutoff)
		if w.Len() == 0 {
			delete(d.windows, key)
		}
	}
	d.sinceSweep = 0
	d.liveAfter = len(d.windows)
}

// WindowCount reports how many windows are retained.
func (d *CorrelationDetector) WindowCount() int {
	return len(d.windows)
}

// WindowLen reports the current window size for key.
func (d *CorrelationDetector) WindowLen(key string) int {
	if w, ok := d.windows[key]; ok {
		return w.Len()
	}
	return 0
}
