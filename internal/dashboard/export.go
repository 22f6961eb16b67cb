package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ExportFormat selects the download shape for a widget's last payload.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatText ExportFormat = "text"
)

// Export renders a widget's last fetched payload for download. JSON is
// pretty-printed as fetched; text walks the known sections and skips
// absent ones.
func (c *Controller) Export(widgetID string, format ExportFormat) (filename string, contentType string, body []byte, err error) {
	c.mu.Lock()
	w, ok := c.widgets[widgetID]
	if !ok {
		c.mu.Unlock()
		return "", "", nil, ErrWidgetNotFound
	}
	payload := w.LastPayload
	kind := w.Kind
	deviceID := w.DeviceID
	c.mu.Unlock()

	if len(payload) == 0 && deviceID != "" {
		// The widget may have been rebound or restarted since the last
		// fetch; the snapshot cache still holds the device's payload.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		raw, err := c.snapshots.Get(ctx, deviceID, string(kind))
		cancel()
		if err == nil && len(raw) > 0 {
			payload = raw
		}
	}
	if len(payload) == 0 {
		return "", "", nil, ErrNothingToExport
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	base := fmt.Sprintf("%s-%s-%s", kind, shortID(deviceID), stamp)

	switch format {
	case FormatText:
		text, err := payloadText(payload)
		if err != nil {
			return "", "", nil, err
		}
		return base + ".txt", "text/plain; charset=utf-8", []byte(text), nil
	default:
		var buf bytes.Buffer
		if err := json.Indent(&buf, payload, "", "  "); err != nil {
			return "", "", nil, fmt.Errorf("format payload: %w", err)
		}
		return base + ".json", "application/json", buf.Bytes(), nil
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "unbound"
	}
	return id
}

// textSections is the render order for the text export. Sections absent
// from the payload are skipped without a trace.
var textSections = []string{"version", "thermal", "fan", "fans", "power", "ports", "slots"}

// payloadText renders a sysinfo-shaped payload as a plain text report.
// Non-object payloads fall back to indented JSON inside the text file.
func payloadText(payload []byte) (string, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}

	var b strings.Builder
	seen := make(map[string]bool)
	for _, name := range textSections {
		section, ok := data[name]
		if !ok {
			continue
		}
		seen[name] = true
		writeSection(&b, name, section)
	}
	// Anything outside the known sections still makes it into the file.
	rest := make([]string, 0)
	for k := range data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		writeSection(&b, k, data[k])
	}
	return b.String(), nil
}

func writeSection(b *strings.Builder, name string, section any) {
	fmt.Fprintf(b, "[%s]\n", strings.ToUpper(name))
	switch v := section.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s: %s\n", k, scalarText(v[k]))
		}
	case []any:
		for i, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				fmt.Fprintf(b, "%d: %s\n", i, scalarText(item))
				continue
			}
			keys := make([]string, 0, len(entry))
			for k := range entry {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%s", k, scalarText(entry[k])))
			}
			fmt.Fprintf(b, "%d: %s\n", i, strings.Join(parts, " "))
		}
	default:
		fmt.Fprintf(b, "%s\n", scalarText(v))
	}
	b.WriteString("\n")
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		out, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(out)
	}
}

// parseHex accepts register addresses and values with or without a 0x
// prefix.
func parseHex(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	return strconv.ParseUint(s, 16, 64)
}
