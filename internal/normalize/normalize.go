package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"evguard/internal/model"
)

var (
	ErrMalformedEvent = errors.New("malformed session event")
	ErrMalformedFrame = errors.New("malformed signal frame")
)

// FrameFields is the bus adapter's frame layout: current, entity key, two reserved fields.
const FrameFields = 4

// SessionFields is what a session payload yielded before validation.
type SessionFields struct {
	Source string
	Extras map[string]string
}

// Session validates decoded session fields. The payload identity wins over the transport
// sender; a record with neither is malformed. Arrival time is always now.
func Session(fields SessionFields, sender string, now time.Time) (model.SessionEvent, error) {
	source := strings.TrimSpace(fields.Source)
	if source == "" {
		source = strings.TrimSpace(sender)
	}
	if source == "" {
		return model.SessionEvent{}, fmt.Errorf("%w: no sender identity", ErrMalformedEvent)
	}
	return model.SessionEvent{Source: source, ObservedAt: now}, nil
}

// Frame validates a positional frame and stamps it with now.
func Frame(fields []string, now time.Time) (model.SignalSample, error) {
	if len(fields) < FrameFields {
		return model.SignalSample{}, fmt.Errorf("%w: got %d fields, want %d", ErrMalformedFrame, len(fields), FrameFields)
	}
	value, err := ParseCurrent(fields[0])
	if err != nil {
		return model.SignalSample{}, fmt.Errorf("%w: current value: %v", ErrMalformedFrame, err)
	}
	key := strings.TrimSpace(fields[1])
	if key == "" {
		return model.SignalSample{}, fmt.Errorf("%w: empty entity key", ErrMalformedFrame)
	}
	return model.SignalSample{EntityKey: key, Value: value, ObservedAt: now}, nil
}

// ParseCurrent accepts a non-negative decimal reading in amperes.
func ParseCurrent(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty value")
	}
	if !isNumeric(value) {
		return 0, fmt.Errorf("not numeric: %q", value)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("out of range: %q", value)
	}
	return v, nil
}

// isNumeric admits plain unsigned decimals only, so signs, exponents, hex and NaN are rejected.
func isNumeric(value string) bool {
	dot := false
	digits := 0
	for _, ch := range value {
		switch {
		case ch >= '0' && ch <= '9':
			digits++
		case ch == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}
