package dashboard

import (
	"encoding/json"
	"time"

	"github.com/jpmutschler/prometheus/internal/backend"
	"github.com/jpmutschler/prometheus/internal/capability"
)

// WidgetKind selects which one-shot fetch a widget performs on refresh.
type WidgetKind string

const (
	KindStatus        WidgetKind = "status"
	KindPorts         WidgetKind = "ports"
	KindTemperatures  WidgetKind = "temperatures"
	KindSysinfo       WidgetKind = "sysinfo"
	KindCommands      WidgetKind = "commands"
	KindErrorCounters WidgetKind = "error_counters"
)

var widgetKinds = map[WidgetKind]struct{}{
	KindStatus:        {},
	KindPorts:         {},
	KindTemperatures:  {},
	KindSysinfo:       {},
	KindCommands:      {},
	KindErrorCounters: {},
}

// ValidKind reports whether k names a known widget kind.
func ValidKind(k WidgetKind) bool {
	_, ok := widgetKinds[k]
	return ok
}

// View is what a widget currently displays. Exactly one of the payload
// fields is populated for a healthy widget; Placeholder carries inline
// error or unknown-type text instead of failing the widget.
type View struct {
	HTML          string                `json:"html,omitempty"`
	Fields        []capability.Field    `json:"fields,omitempty"`
	Ports         *capability.PortsView `json:"ports,omitempty"`
	Temperatures  map[string]float64    `json:"temperatures,omitempty"`
	Slots         []capability.SlotView `json:"slots,omitempty"`
	Commands      []backend.CommandSpec `json:"commands,omitempty"`
	ControlValues map[string]string     `json:"control_values,omitempty"`
	Template      string                `json:"template,omitempty"`
	Placeholder   string                `json:"placeholder,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Widget is one dashboard panel. A widget is bound to at most one device
// at a time; rebinding replaces the previous binding after its refresh
// task is stopped.
type Widget struct {
	ID          string          `json:"id"`
	Kind        WidgetKind      `json:"kind"`
	DeviceID    string          `json:"device_id,omitempty"`
	DeviceType  string          `json:"device_type,omitempty"`
	AutoRefresh bool            `json:"auto_refresh"`
	Interval    time.Duration   `json:"-"`
	View        View            `json:"view"`
	LastPayload json.RawMessage `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IntervalSeconds is the JSON-friendly refresh interval.
func (w *Widget) IntervalSeconds() int {
	return int(w.Interval / time.Second)
}

// MarshalJSON adds the refresh interval, in whole seconds, to the wire
// form. Durations would otherwise serialize as nanoseconds.
func (w Widget) MarshalJSON() ([]byte, error) {
	type alias Widget
	return json.Marshal(struct {
		alias
		IntervalSeconds int `json:"interval_seconds"`
	}{alias: alias(w), IntervalSeconds: w.IntervalSeconds()})
}
