package capability

// Field is one label/value pair of a flattened sysinfo summary. Order is
// part of the contract, which is why flattening returns a slice and not a
// map.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LinkState classifies a port. Every port maps to exactly one state.
type LinkState string

const (
	LinkDown     LinkState = "down"
	LinkDegraded LinkState = "degraded"
	LinkUp       LinkState = "up"
)

// Port is one port record shaped for display.
type Port struct {
	Connector string    `json:"connector"`
	Number    int       `json:"port_number"`
	Station   int       `json:"station"`
	Speed     string    `json:"speed"`
	Width     int       `json:"width"`
	MaxSpeed  string    `json:"max_speed"`
	MaxWidth  int       `json:"max_width"`
	Status    string    `json:"status"`
	Linked    bool      `json:"linked"`
	State     LinkState `json:"state"`
	Text      string    `json:"text"`
}

// PortGroup is an ordered group of ports (e.g. upstream, straddle).
type PortGroup struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Ports []Port `json:"ports"`
}

// PortsView is the pure value description a ports widget renders from.
// Either Groups is populated or Placeholder carries a message; the caller
// decides how to write it out.
type PortsView struct {
	Groups      []PortGroup `json:"groups,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
}

// DriveHealth classifies an NVMe drive in a storage bay.
type DriveHealth string

const (
	HealthOK       DriveHealth = "ok"
	HealthWarning  DriveHealth = "warning"
	HealthCritical DriveHealth = "critical"
)

// Handler adapts one device family's sysinfo schema and command set to the
// generic dashboard. Implementations are pure and immutable once
// registered; they hold no device-instance state.
type Handler interface {
	// Type is the family's self-declared device type id. May be empty,
	// in which case the registration key stands in for it.
	Type() string

	// FlattenSysinfo projects a snapshot into an ordered key/value
	// summary. Absent sections are skipped, never an error.
	FlattenSysinfo(snap Snapshot) []Field

	// Temperatures extracts sensor-label -> degrees Celsius.
	Temperatures(snap Snapshot) map[string]float64

	// ValidCommand reports whether the named command with the given
	// params may be submitted for this family.
	ValidCommand(name string, params map[string]any) bool
}

// PortsRenderer is implemented by handlers whose hardware exposes ports.
type PortsRenderer interface {
	Ports(snap Snapshot) PortsView
}

// StatusRenderer is implemented by handlers that can render a control
// status document as markup.
type StatusRenderer interface {
	StatusHTML(status map[string]any) string
}

// SlotLister is implemented by handlers whose hardware exposes storage
// bays.
type SlotLister interface {
	Slots(snap Snapshot) []SlotView
}

// ControlTemplater is implemented by handlers that name their own control
// panel template.
type ControlTemplater interface {
	ControlTemplateID() string
}

// ControlUpdater is implemented by handlers that map a control status
// document onto form control values.
type ControlUpdater interface {
	ControlValues(status map[string]any) map[string]string
}
