package capability

import (
	"fmt"
	"strconv"
	"strings"
)

// Snapshot is one decoded sysinfo document for a device at one instant.
// Section names and field names differ per device family; handlers are the
// only code that knows a family's shape. Snapshots are read-only: handlers
// project them into view values and never write back.
type Snapshot map[string]any

// Section returns a named top-level object section, or nil when absent.
func (s Snapshot) Section(name string) map[string]any {
	if s == nil {
		return nil
	}
	sec, _ := s[name].(map[string]any)
	return sec
}

// SectionList returns a named top-level array-of-objects section.
func (s Snapshot) SectionList(name string) []map[string]any {
	if s == nil {
		return nil
	}
	raw, ok := s[name].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// strOr returns the field as a string, or def when absent/empty.
func strOr(m map[string]any, key, def string) string {
	if m == nil {
		return def
	}
	s := strings.TrimSpace(asString(m[key]))
	if s == "" {
		return def
	}
	return s
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// numOr returns the field as a float64, or def when absent or non-numeric.
func numOr(m map[string]any, key string, def float64) float64 {
	if m == nil {
		return def
	}
	if f, ok := asNumber(m[key]); ok {
		return f
	}
	return def
}

func intOr(m map[string]any, key string, def int) int {
	return int(numOr(m, key, float64(def)))
}

func boolish(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s == "1" || s == "true" || s == "yes" || s == "on"
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	default:
		return false
	}
}

// hasParams reports whether every named parameter is present with a
// non-nil, non-empty-string value. Command validity is a pure presence
// check; no cross-field or hardware-state validation happens here.
func hasParams(params map[string]any, names ...string) bool {
	for _, name := range names {
		v, ok := params[name]
		if !ok || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}
