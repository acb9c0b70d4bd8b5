package ingest

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"evguard/internal/clock"
	"evguard/internal/model"
	"evguard/internal/normalize"
)

// Decoder turns raw payloads into typed records, stamping arrival time from its clock.
type Decoder struct {
	clock clock.Clock
}

func NewDecoder(c clock.Clock) *Decoder {
	if c == nil {
		c = clock.System()
	}
	return &Decoder{clock: c}
}

// IngestSessionEvent decodes a session-start payload. sender is the transport-level identity
// used when the payload carries none.
func (d *Decoder) IngestSessionEvent(raw []byte, sender string) (model.SessionEvent, error) {
	fields, err := ParseSessionPayload(raw)
	if err != nil {
		return model.SessionEvent{}, err
	}
	return normalize.Session(fields, sender, d.clock.Now())
}

// IngestSignalSample decodes a binary frame, one byte per field.
func (d *Decoder) IngestSignalSample(frame []byte) (model.SignalSample, error) {
	return d.IngestSignalFields(FrameBytes(frame))
}

// IngestSignalLine decodes a text frame. Blank lines yield ok=false and no error.
func (d *Decoder) IngestSignalLine(line string) (sample model.SignalSample, ok bool, err error) {
	fields, err := ParseFrameLine(line)
	if err != nil {
		return model.SignalSample{}, false, err
	}
	if fields == nil {
		return model.SignalSample{}, false, nil
	}
	sample, err = d.IngestSignalFields(fields)
	return sample, err == nil, err
}

func (d *Decoder) IngestSignalFields(fields []string) (model.SignalSample, error) {
	return normalize.Frame(fields, d.clock.Now())
}

// FrameBytes renders each byte of a binary frame as a decimal field.
func FrameBytes(frame []byte) []string {
	fields := make([]string, len(frame))
	for i, b := range frame {
		fields[i] = strconv.Itoa(int(b))
	}
	return fields
}

// ParseFrameLine splits a text frame into fields. It understands plain lists ("50,1,0,0",
// "50 1 0 0", "[50, 1, 0, 0]") and candump lines ("(1700000000.000000) vcan0 123#3201000000000000").
func ParseFrameLine(line string) ([]string, error) {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return nil, nil
	}
	if idx := strings.IndexByte(trim, '#'); idx >= 0 {
		return parseCandump(trim[idx+1:])
	}
	trim = strings.TrimPrefix(trim, "[")
	trim = strings.TrimSuffix(trim, "]")
	fields := strings.FieldsFunc(trim, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func parseCandump(data string) ([]string, error) {
	data = strings.TrimSpace(data)
	if i := strings.IndexAny(data, " \t"); i >= 0 {
		data = data[:i]
	}
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: candump payload: %v", normalize.ErrMalformedFrame, err)
	}
	return FrameBytes(raw), nil
}
