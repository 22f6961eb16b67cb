package capability

import "fmt"

// Registry maps device type ids to capability handlers and is the single
// dispatch point for every operation that varies by device family. It
// never holds device instances, only type handlers. Registration happens
// once at startup before any dispatch, so no locking is needed on the
// read path.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// DefaultRegistry returns a registry with both built-in device families
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(DeviceTypeAtlas3, NewAtlas3Handler())
	r.Register(DeviceTypeHydra, NewHydraHandler())
	return r
}

// Register stores a handler under deviceType. Re-registering overwrites;
// the last registration wins.
func (r *Registry) Register(deviceType string, h Handler) {
	r.handlers[deviceType] = h
}

// Get returns the handler for deviceType, or nil when none is registered.
func (r *Registry) Get(deviceType string) Handler {
	return r.handlers[deviceType]
}

func (r *Registry) IsRegistered(deviceType string) bool {
	_, ok := r.handlers[deviceType]
	return ok
}

// Types returns all registered device type ids.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// ControlTemplateID resolves the control panel template for a device
// type. Unknown types still resolve, to a derived id, so every device
// type maps to a template.
func (r *Registry) ControlTemplateID(deviceType string) string {
	if h := r.handlers[deviceType]; h != nil {
		if ct, ok := h.(ControlTemplater); ok {
			return ct.ControlTemplateID()
		}
	}
	return "control-panel-" + deviceType
}

// RenderPorts produces the ports view for a snapshot. Unknown device
// types (or handlers without ports) get a placeholder view, never an
// error.
func (r *Registry) RenderPorts(snap Snapshot, deviceType string) PortsView {
	if h := r.handlers[deviceType]; h != nil {
		if pr, ok := h.(PortsRenderer); ok {
			return pr.Ports(snap)
		}
	}
	return PortsView{Placeholder: fmt.Sprintf("Unknown device type: %s", deviceType)}
}

// RenderStatus produces control status markup for a device type, falling
// back to a placeholder for unknown types.
func (r *Registry) RenderStatus(status map[string]any, deviceType string) string {
	if h := r.handlers[deviceType]; h != nil {
		if sr, ok := h.(StatusRenderer); ok {
			return sr.StatusHTML(status)
		}
	}
	return placeholderHTML(fmt.Sprintf("Unknown device type: %s", deviceType))
}

// FlattenSysinfo produces the ordered summary for a snapshot. When no
// handler is registered the fallback still synthesizes Model and Serial
// Number from a version section if one exists, so a never-registered
// device type shows minimally useful info.
func (r *Registry) FlattenSysinfo(snap Snapshot, deviceType string) []Field {
	if h := r.handlers[deviceType]; h != nil {
		return h.FlattenSysinfo(snap)
	}
	version := snap.Section("version")
	if version == nil {
		return []Field{}
	}
	return []Field{
		{Label: "Model", Value: strOr(version, "model", "N/A")},
		{Label: "Serial Number", Value: strOr(version, "serial_number", "N/A")},
	}
}

// Temperatures extracts sensor temperatures; empty for unknown types.
func (r *Registry) Temperatures(snap Snapshot, deviceType string) map[string]float64 {
	if h := r.handlers[deviceType]; h != nil {
		return h.Temperatures(snap)
	}
	return map[string]float64{}
}

// Slots shapes the storage bay list; empty for families without bays.
func (r *Registry) Slots(snap Snapshot, deviceType string) []SlotView {
	if h := r.handlers[deviceType]; h != nil {
		if sl, ok := h.(SlotLister); ok {
			return sl.Slots(snap)
		}
	}
	return nil
}

// ValidCommand reports command validity. Unknown device types can never
// execute commands.
func (r *Registry) ValidCommand(name string, params map[string]any, deviceType string) bool {
	h := r.handlers[deviceType]
	if h == nil {
		return false
	}
	return h.ValidCommand(name, params)
}

// ControlValues maps a control status document to form values, or nil
// when the handler does not implement the capability.
func (r *Registry) ControlValues(status map[string]any, deviceType string) map[string]string {
	if h := r.handlers[deviceType]; h != nil {
		if cu, ok := h.(ControlUpdater); ok {
			return cu.ControlValues(status)
		}
	}
	return nil
}
