package engine

import "time"

// WindowState holds session-start timestamps oldest-first. Entries are appended at the tail and
// evicted from the head.
type WindowState struct {
	entries []time.Time
	head    int
}

func NewWindowState() *WindowState {
	return &WindowState{entries: make([]time.Time, 0, 64)}
}

// Add appends ts and returns the timestamp actually stored. A timestamp older than the current
// tail is clamped to the tail so the sequence stays ordered.
func (w *WindowState) Add(ts time.Time) time.Time {
	if n := len(w.entries); n > w.head {
		if tail := w.entries[n-1]; ts.Before(tail) {
			ts = tail
		}
	}
	w.entries = append(w.entries, ts)
	return ts
}

// Evict drops every entry at or before cutoff. An entry exactly one window old is evicted.
func (w *WindowState) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		if w.entries[w.head].After(cutoff) {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]time.Time{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *WindowState) Len() int {
	return len(w.entries) - w.head
}

// Oldest returns the head timestamp, if any.
func (w *WindowState) Oldest() (time.Time, bool) {
	if w.Len() == 0 {
		return time.Time{}, false
	}
	return w.entries[w.head], true
}
