package capability

import (
	"strings"
	"testing"
)

func TestAtlas3FlattenSkipsAbsentSections(t *testing.T) {
	h := NewAtlas3Handler()
	snap := Snapshot{
		"version": map[string]any{"model": "X", "serial_number": "123"},
		"thermal": map[string]any{"switch_temp": 45.2},
	}

	fields := h.FlattenSysinfo(snap)
	byLabel := map[string]string{}
	for _, f := range fields {
		byLabel[f.Label] = f.Value
	}

	if byLabel["Model"] != "X" {
		t.Fatalf("Model = %q", byLabel["Model"])
	}
	if byLabel["Serial Number"] != "123" {
		t.Fatalf("Serial Number = %q", byLabel["Serial Number"])
	}
	if byLabel["Switch Temp"] != "45.2°C" {
		t.Fatalf("Switch Temp = %q", byLabel["Switch Temp"])
	}
	for _, absent := range []string{"Fan Speed", "Voltage", "Current", "Power", "Linked Ports"} {
		if _, ok := byLabel[absent]; ok {
			t.Fatalf("%s should not appear when its section is missing", absent)
		}
	}
}

func TestAtlas3FlattenMissingFieldsUseNA(t *testing.T) {
	h := NewAtlas3Handler()
	fields := h.FlattenSysinfo(Snapshot{"version": map[string]any{}})
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if fields[0].Value != "N/A" || fields[1].Value != "N/A" {
		t.Fatalf("missing identity fields should read N/A, got %+v", fields)
	}
}

func portSnapshot(ports map[string]any) Snapshot {
	return Snapshot{"ports": ports}
}

func TestAtlas3PortClassification(t *testing.T) {
	h := NewAtlas3Handler()
	snap := portSnapshot(map[string]any{
		"upstream": []any{
			map[string]any{"connector": "U0", "is_linked": true, "status": "Optimal", "speed": "Gen5", "width": 16.0},
			map[string]any{"connector": "U1", "is_linked": true, "status": "Degraded", "speed": "Gen3", "width": 4.0},
			// Unlinked wins over a degraded status string.
			map[string]any{"connector": "U2", "is_linked": false, "status": "Degraded"},
		},
	})

	view := h.Ports(snap)
	if len(view.Groups) != 4 {
		t.Fatalf("got %d groups, want all 4 sections", len(view.Groups))
	}
	up := view.Groups[0]
	if up.Key != "upstream" || len(up.Ports) != 3 {
		t.Fatalf("unexpected upstream group: %+v", up)
	}

	if up.Ports[0].State != LinkUp || up.Ports[0].Text != "Gen5 x16" {
		t.Fatalf("linked port: %+v", up.Ports[0])
	}
	if up.Ports[1].State != LinkDegraded || up.Ports[1].Text != "Gen3 x4" {
		t.Fatalf("degraded port: %+v", up.Ports[1])
	}
	if up.Ports[2].State != LinkDown || up.Ports[2].Text != "Not Linked" {
		t.Fatalf("unlinked port: %+v", up.Ports[2])
	}
}

func TestAtlas3PortsPlaceholderWithoutSection(t *testing.T) {
	h := NewAtlas3Handler()
	view := h.Ports(Snapshot{})
	if view.Placeholder == "" || len(view.Groups) != 0 {
		t.Fatalf("expected placeholder-only view, got %+v", view)
	}
}

func TestAtlas3ValidCommand(t *testing.T) {
	h := NewAtlas3Handler()
	cases := []struct {
		name   string
		params map[string]any
		want   bool
	}{
		{"setmode", map[string]any{"mode": "2"}, true},
		{"setmode", map[string]any{}, false},
		{"setmode", map[string]any{"mode": ""}, false},
		{"setmode", map[string]any{"mode": nil}, false},
		{"flit", map[string]any{"station": 2.0, "disable": false}, true},
		{"flit", map[string]any{"station": 2.0}, false},
		{"conrst", map[string]any{"connector": "P1"}, true},
		{"reboot", map[string]any{"now": true}, false},
	}
	for _, tc := range cases {
		if got := h.ValidCommand(tc.name, tc.params); got != tc.want {
			t.Errorf("ValidCommand(%s, %v) = %v, want %v", tc.name, tc.params, got, tc.want)
		}
	}
}

func TestAtlas3StatusHTML(t *testing.T) {
	h := NewAtlas3Handler()
	status := map[string]any{
		"mode": "base",
		"clock": map[string]any{
			"straddle_enabled": true,
			"ext_mcio_enabled": false,
			"int_mcio_enabled": true,
		},
		"spread": map[string]any{"enabled": true, "mode": "down"},
	}
	html := h.StatusHTML(status)
	for _, want := range []string{
		`<span class="label">Operation Mode</span><span class="value">base</span>`,
		`<span class="label">Straddle Clock</span><span class="value">On</span>`,
		`<span class="label">Ext MCIO Clock</span><span class="value">Off</span>`,
		`<span class="label">Int MCIO Clock</span><span class="value">On</span>`,
		`<span class="label">Spread Spectrum</span><span class="value">down</span>`,
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("status html missing %q:\n%s", want, html)
		}
	}

	values := h.ControlValues(status)
	if values["mode"] != "base" || values["clk_straddle"] != "true" || values["spread_mode"] != "down" {
		t.Fatalf("unexpected control values: %v", values)
	}
}

func TestAtlas3Temperatures(t *testing.T) {
	h := NewAtlas3Handler()
	temps := h.Temperatures(Snapshot{"thermal": map[string]any{"switch_temp": 51.5}})
	if temps["Switch"] != 51.5 {
		t.Fatalf("temps = %v", temps)
	}
	if temps := h.Temperatures(Snapshot{}); len(temps) != 0 {
		t.Fatalf("expected no temps without a thermal section, got %v", temps)
	}
}
