package backend

// Response and request shapes of the serial backend's REST surface. The
// backend owns the serial protocol; this package only speaks its JSON.

// DeviceInfo is the identity block returned on connect and detection.
type DeviceInfo struct {
	DeviceType      string `json:"device_type"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
	Company         string `json:"company,omitempty"`
}

// Device is one live backend connection.
type Device struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	ComPort   string `json:"com_port"`
	Connected bool   `json:"connected"`
}

// PortInfo describes one COM port on the backend host.
type PortInfo struct {
	Device       string `json:"device"`
	Description  string `json:"description"`
	HWID         string `json:"hwid"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	SerialNumber string `json:"serial_number"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
}

// DetectResult is the per-port outcome of a detection scan.
type DetectResult struct {
	Success         bool   `json:"success"`
	DeviceType      string `json:"device_type,omitempty"`
	Model           string `json:"model,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Error           string `json:"error,omitempty"`
}

// DetectAllResult is the whole-scan outcome keyed by port name.
type DetectAllResult struct {
	ScannedCount  int                     `json:"scanned_count"`
	DetectedCount int                     `json:"detected_count"`
	SkippedPorts  []string                `json:"skipped_ports"`
	Results       map[string]DetectResult `json:"results"`
	FromCache     bool                    `json:"from_cache"`
}

// ConnectResult is returned by a successful connect.
type ConnectResult struct {
	DeviceID string     `json:"device_id"`
	Info     DeviceInfo `json:"info"`
}

// ControlCommand is one validated command in a control batch.
type ControlCommand struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// ControlResult is the per-command outcome of a control batch.
type ControlResult struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
}

// ControlOutcome is the whole-batch outcome. Disconnect is set when a
// command terminated the serial session (mode change, power off) and the
// caller must drop and re-establish the connection.
type ControlOutcome struct {
	Results    []ControlResult `json:"results"`
	Disconnect bool            `json:"disconnect"`
}

// CommandParam describes one parameter of a catalog command.
type CommandParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// CommandSpec is one entry of a device's command catalog.
type CommandSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []CommandParam `json:"parameters"`
	Dangerous   bool           `json:"dangerous,omitempty"`
}

// CommandResult is the outcome of a single console command.
type CommandResult struct {
	Success  bool   `json:"success"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}
