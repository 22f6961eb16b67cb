package capability

import "fmt"

// DeviceTypeHydra identifies the HYDRA JBOF controller family.
const DeviceTypeHydra = "hydra"

// spareUsedWarnPct is the life-used percentage above which a drive is
// flagged even without a critical warning bit set.
const spareUsedWarnPct = 90

// hydraCommands maps each recognized control command to its required
// parameters.
var hydraCommands = map[string][]string{
	"syspwr":  {"state"},
	"ssdpwr":  {"slot", "state"},
	"ssdrst":  {"slot"},
	"smbrst":  {"slot"},
	"hled":    {"slot", "state"},
	"fled":    {"slot", "state"},
	"buz":     {"state"},
	"pwmctrl": {"fan_id", "duty"},
	"dual":    {"slot", "enabled"},
	"pwrdis":  {"slot", "level"},
}

// SlotView is one storage bay shaped for display.
type SlotView struct {
	Number      int         `json:"slot_number"`
	Present     bool        `json:"present"`
	PowerOn     bool        `json:"power_on"`
	Temperature float64     `json:"temperature"`
	Power       float64     `json:"power"`
	Drive       *DriveView  `json:"drive,omitempty"`
	Health      DriveHealth `json:"health"`
}

// DriveView is the optional NVMe health sub-record of a slot.
type DriveView struct {
	SparePct       float64 `json:"available_spare"`
	SpareThreshold float64 `json:"available_spare_threshold"`
	UsedPct        float64 `json:"percentage_used"`
	Temperature    float64 `json:"temperature"`
	Warnings       int     `json:"critical_warning"`
}

// HydraHandler shapes HYDRA JBOF snapshots: version block, MCU
// temperature, two named fans, PSU voltage, and eight storage bays with
// optional NVMe drive health.
type HydraHandler struct{}

func NewHydraHandler() *HydraHandler { return &HydraHandler{} }

func (h *HydraHandler) Type() string { return DeviceTypeHydra }

func (h *HydraHandler) FlattenSysinfo(snap Snapshot) []Field {
	fields := make([]Field, 0, 8)

	if version := snap.Section("version"); version != nil {
		fields = append(fields,
			Field{Label: "Model", Value: strOr(version, "model", "N/A")},
			Field{Label: "Serial Number", Value: strOr(version, "serial_number", "N/A")},
		)
		if fw := strOr(version, "firmware_version", ""); fw != "" {
			fields = append(fields, Field{Label: "Firmware", Value: fw})
		}
	}
	if thermal := snap.Section("thermal"); thermal != nil {
		fields = append(fields, Field{
			Label: "MCU Temp",
			Value: fmt.Sprintf("%.1f°C", numOr(thermal, "mcu_temp", 0)),
		})
	}
	if fans := snap.Section("fans"); fans != nil {
		fields = append(fields,
			Field{Label: "Fan 1", Value: fmt.Sprintf("%d RPM", intOr(fans, "fan1_rpm", 0))},
			Field{Label: "Fan 2", Value: fmt.Sprintf("%d RPM", intOr(fans, "fan2_rpm", 0))},
		)
	}
	if power := snap.Section("power"); power != nil {
		fields = append(fields, Field{
			Label: "PSU Voltage",
			Value: fmt.Sprintf("%.2f V", numOr(power, "psu_voltage", 0)),
		})
	}
	if slots := snap.SectionList("slots"); slots != nil {
		present := 0
		for _, slot := range slots {
			if boolish(slot["present"]) || strOr(slot, "power_status", "") == "on" {
				present++
			}
		}
		fields = append(fields, Field{Label: "Populated Slots", Value: fmt.Sprintf("%d / %d", present, len(slots))})
	}
	return fields
}

func (h *HydraHandler) Temperatures(snap Snapshot) map[string]float64 {
	temps := map[string]float64{}
	if thermal := snap.Section("thermal"); thermal != nil {
		if v, ok := asNumber(thermal["mcu_temp"]); ok {
			temps["MCU"] = v
		}
	}
	for _, slot := range snap.SectionList("slots") {
		if v, ok := asNumber(slot["temperature"]); ok && v != 0 {
			temps[fmt.Sprintf("Slot %d", intOr(slot, "slot_number", 0))] = v
		}
	}
	return temps
}

// Slots shapes the bay list, classifying drive health per bay.
func (h *HydraHandler) Slots(snap Snapshot) []SlotView {
	raw := snap.SectionList("slots")
	views := make([]SlotView, 0, len(raw))
	for _, slot := range raw {
		view := SlotView{
			Number:      intOr(slot, "slot_number", 0),
			Present:     boolish(slot["present"]),
			PowerOn:     strOr(slot, "power_status", "") == "on",
			Temperature: numOr(slot, "temperature", 0),
			Power:       numOr(slot, "power", 0),
			Health:      HealthOK,
		}
		if nvme, ok := slot["nvme"].(map[string]any); ok {
			if health, ok := nvme["health"].(map[string]any); ok {
				drive := &DriveView{
					SparePct:       numOr(health, "available_spare", 0),
					SpareThreshold: numOr(health, "available_spare_threshold", 0),
					UsedPct:        numOr(health, "percentage_used", 0),
					Temperature:    numOr(health, "temperature", 0),
					Warnings:       intOr(health, "critical_warning", 0),
				}
				view.Drive = drive
				view.Health = classifyDrive(drive)
			}
		}
		views = append(views, view)
	}
	return views
}

// classifyDrive orders the tiers: any critical warning bit wins over the
// spare/used thresholds.
func classifyDrive(d *DriveView) DriveHealth {
	if d.Warnings != 0 {
		return HealthCritical
	}
	if d.UsedPct > spareUsedWarnPct || d.SparePct < d.SpareThreshold {
		return HealthWarning
	}
	return HealthOK
}

func (h *HydraHandler) ValidCommand(name string, params map[string]any) bool {
	required, ok := hydraCommands[name]
	if !ok {
		return false
	}
	return hasParams(params, required...)
}

func (h *HydraHandler) ControlTemplateID() string { return "hydra-control" }

func (h *HydraHandler) StatusHTML(status map[string]any) string {
	if status == nil {
		return placeholderHTML("No status available")
	}
	b := newStatusBuilder("hydra-status")
	if slotPower, ok := status["slot_power"].(map[string]any); ok {
		for slot := 1; slot <= 8; slot++ {
			key := fmt.Sprintf("%d", slot)
			if state, present := slotPower[key]; present {
				b.row(fmt.Sprintf("Slot %d Power", slot), asString(state))
			}
		}
	}
	return b.html()
}

func (h *HydraHandler) ControlValues(status map[string]any) map[string]string {
	values := map[string]string{}
	if status == nil {
		return values
	}
	if slotPower, ok := status["slot_power"].(map[string]any); ok {
		for slot := 1; slot <= 8; slot++ {
			key := fmt.Sprintf("%d", slot)
			if state, present := slotPower[key]; present {
				values[fmt.Sprintf("slot%d_power", slot)] = asString(state)
			}
		}
	}
	return values
}
