package capability

import (
	"fmt"
	"html"
	"strings"
)

// Markup helpers. Handlers return value trees; this file is the one place
// that turns them into HTML strings for the browser shell.

func placeholderHTML(msg string) string {
	return fmt.Sprintf(`<div class="placeholder">%s</div>`, html.EscapeString(msg))
}

type statusBuilder struct {
	class string
	rows  []string
}

func newStatusBuilder(class string) *statusBuilder {
	return &statusBuilder{class: class}
}

func (b *statusBuilder) row(label, value string) {
	b.rows = append(b.rows, fmt.Sprintf(
		`<div class="status-row"><span class="label">%s</span><span class="value">%s</span></div>`,
		html.EscapeString(label), html.EscapeString(value)))
}

func (b *statusBuilder) html() string {
	if len(b.rows) == 0 {
		return placeholderHTML("No status available")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `<div class="%s">`, html.EscapeString(b.class))
	for _, row := range b.rows {
		sb.WriteString(row)
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

// PortsHTML renders a ports view as markup. The link state doubles as the
// CSS class on each port cell.
func PortsHTML(view PortsView) string {
	if view.Placeholder != "" {
		return placeholderHTML(view.Placeholder)
	}
	var sb strings.Builder
	sb.WriteString(`<div class="port-groups">`)
	for _, group := range view.Groups {
		fmt.Fprintf(&sb, `<div class="port-group" data-group="%s"><h4>%s</h4>`,
			html.EscapeString(group.Key), html.EscapeString(group.Label))
		if len(group.Ports) == 0 {
			sb.WriteString(`<div class="port-empty">No ports</div>`)
		}
		for _, port := range group.Ports {
			fmt.Fprintf(&sb,
				`<div class="port %s"><span class="connector">%s</span><span class="state">%s</span></div>`,
				html.EscapeString(string(port.State)),
				html.EscapeString(port.Connector),
				html.EscapeString(port.Text))
		}
		sb.WriteString(`</div>`)
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

func onOff(v bool) string {
	if v {
		return "On"
	}
	return "Off"
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
