package ingest

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"evguard/internal/normalize"
)

var identityKeys = []string{"source", "charge_point_id", "chargepointid", "chargeboxid", "identity", "id"}

// ParseSessionPayload decodes a structured session message. Objects are read directly; arrays
// (OCPP-J style calls) are searched for the first object carrying an identity.
func ParseSessionPayload(data []byte) (normalize.SessionFields, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return normalize.SessionFields{}, fmt.Errorf("%w: %v", normalize.ErrMalformedEvent, err)
	}
	switch msg := v.(type) {
	case map[string]any:
		return ParseSessionMap(msg), nil
	case []any:
		fields := normalize.SessionFields{Extras: map[string]string{}}
		for _, elem := range msg {
			obj, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			if f := ParseSessionMap(obj); f.Source != "" {
				return f, nil
			}
		}
		return fields, nil
	}
	return normalize.SessionFields{}, fmt.Errorf("%w: payload is not an object or array", normalize.ErrMalformedEvent)
}

func ParseSessionMap(obj map[string]any) normalize.SessionFields {
	fields := normalize.SessionFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		switch val.(type) {
		case map[string]any, []any:
			continue
		}
		fields.Extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	fields.Source = firstNonEmpty(fields.Extras, identityKeys...)
	return fields
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
