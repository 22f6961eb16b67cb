package capability

import "fmt"

// DeviceTypeAtlas3 identifies the Atlas3 PCIe switch family.
const DeviceTypeAtlas3 = "atlas3"

// statusDegraded is the link status string the switch reports for a port
// that trained below its capabilities.
const statusDegraded = "Degraded"

// atlas3PortGroups lists the port sections in display order.
var atlas3PortGroups = []struct {
	key   string
	label string
}{
	{"upstream", "Upstream"},
	{"ext_mcio", "External MCIO"},
	{"int_mcio", "Internal MCIO"},
	{"straddle", "Straddle"},
}

// atlas3Commands maps each recognized control command to its required
// parameters. Anything not in this table is invalid for the family.
var atlas3Commands = map[string][]string{
	"setmode": {"mode"},
	"clk":     {"enable"},
	"spread":  {"mode"},
	"flit":    {"station", "disable"},
	"conrst":  {"connector"},
}

// Atlas3Handler shapes Atlas3 PCIe switch snapshots: version block,
// single aggregate temperature and fan, load power, and four categorized
// port groups.
type Atlas3Handler struct{}

func NewAtlas3Handler() *Atlas3Handler { return &Atlas3Handler{} }

func (h *Atlas3Handler) Type() string { return DeviceTypeAtlas3 }

func (h *Atlas3Handler) FlattenSysinfo(snap Snapshot) []Field {
	fields := make([]Field, 0, 8)

	if version := snap.Section("version"); version != nil {
		fields = append(fields,
			Field{Label: "Model", Value: strOr(version, "model", "N/A")},
			Field{Label: "Serial Number", Value: strOr(version, "serial_number", "N/A")},
		)
		if mcu := strOr(version, "mcu_version", ""); mcu != "" {
			fields = append(fields, Field{Label: "MCU Version", Value: mcu})
		}
	}
	if thermal := snap.Section("thermal"); thermal != nil {
		fields = append(fields, Field{
			Label: "Switch Temp",
			Value: fmt.Sprintf("%.1f°C", numOr(thermal, "switch_temp", 0)),
		})
	}
	if fan := snap.Section("fan"); fan != nil {
		fields = append(fields, Field{
			Label: "Fan Speed",
			Value: fmt.Sprintf("%d RPM", intOr(fan, "switch_fan_rpm", 0)),
		})
	}
	if power := snap.Section("power"); power != nil {
		fields = append(fields,
			Field{Label: "Voltage", Value: fmt.Sprintf("%.2f V", numOr(power, "voltage", 0))},
			Field{Label: "Current", Value: fmt.Sprintf("%.2f A", numOr(power, "current", 0))},
			Field{Label: "Power", Value: fmt.Sprintf("%.1f W", numOr(power, "power", 0))},
		)
	}
	if ports := snap.Section("ports"); ports != nil {
		linked, total := 0, 0
		for _, group := range atlas3PortGroups {
			for _, p := range portList(ports, group.key) {
				total++
				if boolish(p["is_linked"]) {
					linked++
				}
			}
		}
		fields = append(fields, Field{Label: "Linked Ports", Value: fmt.Sprintf("%d / %d", linked, total)})
	}
	return fields
}

func (h *Atlas3Handler) Temperatures(snap Snapshot) map[string]float64 {
	temps := map[string]float64{}
	if thermal := snap.Section("thermal"); thermal != nil {
		if v, ok := asNumber(thermal["switch_temp"]); ok {
			temps["Switch"] = v
		}
	}
	return temps
}

func (h *Atlas3Handler) Ports(snap Snapshot) PortsView {
	ports := snap.Section("ports")
	if ports == nil {
		return PortsView{Placeholder: "No port data available"}
	}
	view := PortsView{}
	for _, group := range atlas3PortGroups {
		pg := PortGroup{Key: group.key, Label: group.label}
		for _, raw := range portList(ports, group.key) {
			pg.Ports = append(pg.Ports, shapeAtlas3Port(raw))
		}
		view.Groups = append(view.Groups, pg)
	}
	return view
}

func portList(ports map[string]any, key string) []map[string]any {
	raw, ok := ports[key].([]any)
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

// shapeAtlas3Port classifies one port record. Order matters: an unlinked
// port is down even when its status string also reads as degraded.
func shapeAtlas3Port(raw map[string]any) Port {
	p := Port{
		Connector: strOr(raw, "connector", ""),
		Number:    intOr(raw, "port_number", 0),
		Station:   intOr(raw, "station", 0),
		Speed:     strOr(raw, "speed", "N/A"),
		Width:     intOr(raw, "width", 0),
		MaxSpeed:  strOr(raw, "max_speed", "N/A"),
		MaxWidth:  intOr(raw, "max_width", 0),
		Status:    strOr(raw, "status", "Unknown"),
		Linked:    boolish(raw["is_linked"]),
	}
	switch {
	case !p.Linked:
		p.State = LinkDown
		p.Text = "Not Linked"
	case p.Status == statusDegraded:
		p.State = LinkDegraded
		p.Text = fmt.Sprintf("%s x%d", p.Speed, p.Width)
	default:
		p.State = LinkUp
		p.Text = fmt.Sprintf("%s x%d", p.Speed, p.Width)
	}
	return p
}

func (h *Atlas3Handler) ValidCommand(name string, params map[string]any) bool {
	required, ok := atlas3Commands[name]
	if !ok {
		return false
	}
	return hasParams(params, required...)
}

func (h *Atlas3Handler) ControlTemplateID() string { return "atlas3-control" }

func (h *Atlas3Handler) StatusHTML(status map[string]any) string {
	if status == nil {
		return placeholderHTML("No status available")
	}
	b := newStatusBuilder("atlas3-status")
	b.row("Operation Mode", strOr(status, "mode", "N/A"))
	if clock, ok := status["clock"].(map[string]any); ok {
		b.row("Straddle Clock", onOff(boolish(clock["straddle_enabled"])))
		b.row("Ext MCIO Clock", onOff(boolish(clock["ext_mcio_enabled"])))
		b.row("Int MCIO Clock", onOff(boolish(clock["int_mcio_enabled"])))
	}
	if spread, ok := status["spread"].(map[string]any); ok {
		if boolish(spread["enabled"]) {
			b.row("Spread Spectrum", strOr(spread, "mode", "on"))
		} else {
			b.row("Spread Spectrum", "off")
		}
	}
	if flit, ok := status["flit"].(map[string]any); ok {
		for _, station := range []string{"station2", "station5", "station7", "station8"} {
			if _, present := flit[station]; present {
				b.row("FLIT "+station, onOff(boolish(flit[station])))
			}
		}
	}
	return b.html()
}

func (h *Atlas3Handler) ControlValues(status map[string]any) map[string]string {
	values := map[string]string{}
	if status == nil {
		return values
	}
	if mode := strOr(status, "mode", ""); mode != "" {
		values["mode"] = mode
	}
	if clock, ok := status["clock"].(map[string]any); ok {
		values["clk_straddle"] = boolStr(boolish(clock["straddle_enabled"]))
		values["clk_ext_mcio"] = boolStr(boolish(clock["ext_mcio_enabled"]))
		values["clk_int_mcio"] = boolStr(boolish(clock["int_mcio_enabled"]))
	}
	if spread, ok := status["spread"].(map[string]any); ok {
		if boolish(spread["enabled"]) {
			values["spread_mode"] = strOr(spread, "mode", "off")
		} else {
			values["spread_mode"] = "off"
		}
	}
	if flit, ok := status["flit"].(map[string]any); ok {
		for _, station := range []string{"station2", "station5", "station7", "station8"} {
			if _, present := flit[station]; present {
				values["flit_"+station] = boolStr(boolish(flit[station]))
			}
		}
	}
	return values
}
