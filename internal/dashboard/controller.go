package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpmutschler/prometheus/internal/backend"
	"github.com/jpmutschler/prometheus/internal/cache"
	"github.com/jpmutschler/prometheus/internal/capability"
	"github.com/jpmutschler/prometheus/internal/observability"
)

var (
	ErrWidgetNotFound        = errors.New("widget not found")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrConfirmationRequired  = errors.New("confirmation required")
	ErrNoValidCommands       = errors.New("no valid commands to submit")
	ErrWidgetUnbound         = errors.New("widget is not bound to a device")
	ErrNothingToExport       = errors.New("widget has no payload to export")
	errInvalidRegisterValue  = errors.New("register value must be a hex number")
	errInvalidRegisterOp     = errors.New("register op must be read or write")
	errInvalidRegisterAddr   = errors.New("register address must be a hex number")
	errUnknownWidgetKind     = errors.New("unknown widget kind")
	errIntervalOutOfBounds   = errors.New("refresh interval out of bounds")
	errMissingWidgetDeviceID = errors.New("device_id is required")
)

// Subscriber is the slice of the realtime channel the controller uses.
type Subscriber interface {
	Subscribe(deviceID string)
	Unsubscribe(deviceID string)
}

// deviceState is per-connection bookkeeping. Handlers are stateless; all
// instance state (connection id, identity, last pushed status) lives
// here.
type deviceState struct {
	Type       string
	ComPort    string
	Info       backend.DeviceInfo
	LastStatus map[string]any
}

// Controller owns widget lifecycle and device-instance bookkeeping. It is
// the sole caller of the capability registry and never branches on a
// device type itself.
type Controller struct {
	registry  *capability.Registry
	client    *backend.Client
	realtime  Subscriber
	snapshots cache.SnapshotCache
	refresher *Refresher

	minInterval time.Duration
	maxInterval time.Duration

	// onUpdate, when set, receives every widget view change (push to
	// browsers). onDeviceGone fires once per cleared device.
	onUpdate     func(widgetID string, view View)
	onDeviceGone func(deviceID string)

	mu      sync.Mutex
	devices map[string]*deviceState
	widgets map[string]*Widget
}

type Options struct {
	Registry     *capability.Registry
	Client       *backend.Client
	Realtime     Subscriber
	Snapshots    cache.SnapshotCache
	MinInterval  time.Duration
	MaxInterval  time.Duration
	OnUpdate     func(widgetID string, view View)
	OnDeviceGone func(deviceID string)
}

func NewController(opts Options) *Controller {
	minI := opts.MinInterval
	if minI <= 0 {
		minI = time.Second
	}
	maxI := opts.MaxInterval
	if maxI <= 0 {
		maxI = 5 * time.Minute
	}
	snapshots := opts.Snapshots
	if snapshots == nil {
		snapshots = cache.NewMemory(0)
	}
	return &Controller{
		registry:     opts.Registry,
		client:       opts.Client,
		realtime:     opts.Realtime,
		snapshots:    snapshots,
		refresher:    NewRefresher(),
		minInterval:  minI,
		maxInterval:  maxI,
		onUpdate:     opts.OnUpdate,
		onDeviceGone: opts.OnDeviceGone,
		devices:      make(map[string]*deviceState),
		widgets:      make(map[string]*Widget),
	}
}

// SetRealtime installs the backend subscription channel after
// construction. The realtime client's handlers point back at the
// controller, so the two are wired in two steps.
func (c *Controller) SetRealtime(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtime = sub
}

// Close stops every refresh task.
func (c *Controller) Close() {
	c.refresher.StopAll()
}

// ---------------------------------------------------------------------------
// Device lifecycle

// Connect opens a backend session and records the device instance.
func (c *Controller) Connect(ctx context.Context, deviceType, comPort string) (*backend.ConnectResult, error) {
	res, err := c.client.Connect(ctx, deviceType, comPort)
	if err != nil {
		return nil, fmt.Errorf("connect %s on %s: %w", deviceType, comPort, err)
	}
	c.mu.Lock()
	c.devices[res.DeviceID] = &deviceState{Type: deviceType, ComPort: comPort, Info: res.Info}
	c.mu.Unlock()
	slog.Info("device connected", "device_id", res.DeviceID, "type", deviceType, "com_port", comPort)
	return res, nil
}

// Disconnect drops the backend session and resets every widget bound to
// the device.
func (c *Controller) Disconnect(ctx context.Context, deviceID string) error {
	err := c.client.Disconnect(ctx, deviceID)
	if err != nil && !backend.IsAPIError(err) {
		return err
	}
	c.forgetDevice(ctx, deviceID)
	if err != nil {
		// Backend already considered it gone; local state is reset either way.
		slog.Warn("disconnect reported failure", "device_id", deviceID, "error", err)
	}
	return nil
}

func (c *Controller) subscriber() Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realtime
}

// forgetDevice clears instance state and unbinds dependent widgets.
func (c *Controller) forgetDevice(ctx context.Context, deviceID string) {
	if sub := c.subscriber(); sub != nil {
		sub.Unsubscribe(deviceID)
	}
	_ = c.snapshots.Delete(ctx, deviceID)

	c.mu.Lock()
	delete(c.devices, deviceID)
	var affected []*Widget
	for _, w := range c.widgets {
		if w.DeviceID == deviceID {
			affected = append(affected, w)
		}
	}
	c.mu.Unlock()

	for _, w := range affected {
		c.refresher.Stop(w.ID)
		c.mu.Lock()
		w.DeviceID = ""
		w.DeviceType = ""
		w.AutoRefresh = false
		w.View = View{Placeholder: "Device disconnected", UpdatedAt: time.Now().UTC()}
		view := w.View
		c.mu.Unlock()
		c.pushUpdate(w.ID, view)
	}
	if c.onDeviceGone != nil {
		c.onDeviceGone(deviceID)
	}
	slog.Info("device state cleared", "device_id", deviceID)
}

// DeviceType resolves the type bound to a device id.
func (c *Controller) DeviceType(deviceID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.devices[deviceID]
	if !ok {
		return "", false
	}
	return ds.Type, true
}

// ApplyStatusUpdate records a pushed status and refreshes the views of
// status widgets bound to the device.
func (c *Controller) ApplyStatusUpdate(update backend.StatusUpdate) {
	c.mu.Lock()
	ds, ok := c.devices[update.DeviceID]
	if !ok {
		c.mu.Unlock()
		return
	}
	ds.LastStatus = update.Status
	deviceType := ds.Type
	var affected []*Widget
	for _, w := range c.widgets {
		if w.DeviceID == update.DeviceID && w.Kind == KindStatus {
			affected = append(affected, w)
		}
	}
	c.mu.Unlock()

	for _, w := range affected {
		view := c.shapeStatus(update.Status, deviceType, time.Now().UTC())
		c.storeView(w, view, update.Status)
	}
}

// ---------------------------------------------------------------------------
// Widget lifecycle

// CreateWidget adds an unbound widget of the given kind.
func (c *Controller) CreateWidget(kind WidgetKind) (Widget, error) {
	if !ValidKind(kind) {
		return Widget{}, fmt.Errorf("%w: %s", errUnknownWidgetKind, kind)
	}
	w := &Widget{
		ID:        uuid.New().String(),
		Kind:      kind,
		View:      View{Placeholder: "No device selected", UpdatedAt: time.Now().UTC()},
		CreatedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.widgets[w.ID] = w
	c.mu.Unlock()
	return *w, nil
}

// Widgets returns snapshots of all widgets sorted by creation time.
// Copies are taken under the lock so callers can marshal them while
// refresh goroutines keep mutating the originals.
func (c *Controller) Widgets() []Widget {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Widget, 0, len(c.widgets))
	for _, w := range c.widgets {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Widget returns a snapshot of one widget.
func (c *Controller) Widget(id string) (Widget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.widgets[id]
	if !ok {
		return Widget{}, ErrWidgetNotFound
	}
	return *w, nil
}

// RemoveWidget destroys a widget, stopping its refresh task first.
func (c *Controller) RemoveWidget(id string) error {
	c.refresher.Stop(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.widgets[id]; !ok {
		return ErrWidgetNotFound
	}
	delete(c.widgets, id)
	return nil
}

// Bind points a widget at a device instance. Any previous binding's
// refresh task is stopped before the new binding takes effect; the old
// view stays visible until the one-shot fetch lands (accepted staleness
// window). Status widgets additionally subscribe on the realtime channel.
func (c *Controller) Bind(ctx context.Context, widgetID, deviceID string) error {
	if deviceID == "" {
		return errMissingWidgetDeviceID
	}
	c.mu.Lock()
	w, ok := c.widgets[widgetID]
	if !ok {
		c.mu.Unlock()
		return ErrWidgetNotFound
	}
	ds, ok := c.devices[deviceID]
	if !ok {
		c.mu.Unlock()
		return ErrDeviceNotFound
	}
	deviceType := ds.Type
	c.mu.Unlock()

	// Cancel-before-rebind: the old device's timer must never fire into
	// the new binding.
	c.refresher.Stop(widgetID)

	c.mu.Lock()
	w.DeviceID = deviceID
	w.DeviceType = deviceType
	w.AutoRefresh = false
	c.mu.Unlock()

	if sub := c.subscriber(); sub != nil && w.Kind == KindStatus {
		sub.Subscribe(deviceID)
	}

	// A cached payload from an earlier session with this device becomes
	// the initial view while the one-shot fetch is in flight.
	c.seedFromCache(ctx, w)

	c.RefreshWidget(ctx, widgetID)
	return nil
}

// seedFromCache installs the widget's last cached payload, if any, as its
// view. The payload is re-shaped through the registry so the cached view
// renders identically to a fresh one.
func (c *Controller) seedFromCache(ctx context.Context, w *Widget) {
	c.mu.Lock()
	deviceID, deviceType, kind, id := w.DeviceID, w.DeviceType, w.Kind, w.ID
	c.mu.Unlock()

	raw, err := c.snapshots.Get(ctx, deviceID, string(kind))
	if err != nil || len(raw) == 0 {
		return
	}
	view, ok := c.shapeCached(kind, deviceType, raw)
	if !ok {
		return
	}
	c.mu.Lock()
	w.View = view
	w.LastPayload = append(json.RawMessage(nil), raw...)
	c.mu.Unlock()
	c.pushUpdate(id, view)
}

// shapeCached re-renders a cached raw payload into a view for its widget
// kind. Undecodable payloads are ignored.
func (c *Controller) shapeCached(kind WidgetKind, deviceType string, raw []byte) (View, bool) {
	now := time.Now().UTC()
	switch kind {
	case KindStatus:
		var status map[string]any
		if err := json.Unmarshal(raw, &status); err != nil {
			return View{}, false
		}
		return c.shapeStatus(status, deviceType, now), true
	case KindPorts, KindTemperatures, KindSysinfo:
		var snap map[string]any
		if err := json.Unmarshal(raw, &snap); err != nil {
			return View{}, false
		}
		return c.shapeSnapshot(kind, capability.Snapshot(snap), deviceType, now), true
	case KindCommands:
		var commands []backend.CommandSpec
		if err := json.Unmarshal(raw, &commands); err != nil {
			return View{}, false
		}
		return View{Commands: commands, UpdatedAt: now}, true
	case KindErrorCounters:
		var response any
		if err := json.Unmarshal(raw, &response); err != nil {
			return View{}, false
		}
		return View{Fields: errorCounterFields(response), UpdatedAt: now}, true
	}
	return View{}, false
}

// SetAutoRefresh enables or disables the periodic refresh of a widget.
// Enabling always replaces any running task.
func (c *Controller) SetAutoRefresh(widgetID string, enabled bool, interval time.Duration) error {
	c.mu.Lock()
	w, ok := c.widgets[widgetID]
	if !ok {
		c.mu.Unlock()
		return ErrWidgetNotFound
	}
	if enabled && w.DeviceID == "" {
		c.mu.Unlock()
		return ErrWidgetUnbound
	}
	if enabled && (interval < c.minInterval || interval > c.maxInterval) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", errIntervalOutOfBounds, interval)
	}
	w.AutoRefresh = enabled
	w.Interval = interval
	c.mu.Unlock()

	if !enabled {
		c.refresher.Stop(widgetID)
		return nil
	}
	c.refresher.Set(widgetID, interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		c.RefreshWidget(ctx, widgetID)
	})
	return nil
}

// RefreshWidget performs the widget kind's one-shot fetch and stores the
// resulting view. Fetch failures become inline placeholders; they never
// interrupt other widgets.
func (c *Controller) RefreshWidget(ctx context.Context, widgetID string) {
	c.mu.Lock()
	w, ok := c.widgets[widgetID]
	if !ok {
		c.mu.Unlock()
		return
	}
	deviceID, deviceType, kind := w.DeviceID, w.DeviceType, w.Kind
	c.mu.Unlock()

	if deviceID == "" {
		return
	}

	view, payload, err := c.fetch(ctx, kind, deviceID, deviceType)
	if err != nil {
		observability.WidgetRefreshes.WithLabelValues(string(kind), "error").Inc()
		slog.Warn("widget refresh failed", "widget_id", widgetID, "kind", kind,
			"device_id", deviceID, "error", err)
		view = View{Placeholder: "Error: " + err.Error(), UpdatedAt: time.Now().UTC()}
		c.storeView(w, view, nil)
		return
	}
	observability.WidgetRefreshes.WithLabelValues(string(kind), "ok").Inc()
	c.storeView(w, view, payload)
}

// fetch runs the one-shot fetch for a widget kind and shapes its view
// through the registry.
func (c *Controller) fetch(ctx context.Context, kind WidgetKind, deviceID, deviceType string) (View, any, error) {
	now := time.Now().UTC()
	switch kind {
	case KindStatus:
		status, err := c.client.ControlStatus(ctx, deviceID)
		if err != nil {
			return View{}, nil, err
		}
		c.mu.Lock()
		if ds, ok := c.devices[deviceID]; ok {
			ds.LastStatus = status
		}
		c.mu.Unlock()
		return c.shapeStatus(status, deviceType, now), status, nil

	case KindPorts, KindTemperatures, KindSysinfo:
		snap, err := c.client.Sysinfo(ctx, deviceID)
		if err != nil {
			return View{}, nil, err
		}
		return c.shapeSnapshot(kind, snap, deviceType, now), snap, nil

	case KindCommands:
		commands, err := c.client.Commands(ctx, deviceID)
		if err != nil {
			return View{}, nil, err
		}
		return View{Commands: commands, UpdatedAt: now}, commands, nil

	case KindErrorCounters:
		result, err := c.client.Command(ctx, deviceID, "error_counters", map[string]any{})
		if err != nil {
			return View{}, nil, err
		}
		if !result.Success {
			return View{Placeholder: "Error: " + result.Error, UpdatedAt: now}, result, nil
		}
		fields := errorCounterFields(result.Response)
		return View{Fields: fields, UpdatedAt: now}, result.Response, nil
	}
	return View{}, nil, fmt.Errorf("%w: %s", errUnknownWidgetKind, kind)
}

func (c *Controller) shapeStatus(status map[string]any, deviceType string, now time.Time) View {
	return View{
		HTML:          c.registry.RenderStatus(status, deviceType),
		ControlValues: c.registry.ControlValues(status, deviceType),
		Template:      c.registry.ControlTemplateID(deviceType),
		UpdatedAt:     now,
	}
}

func (c *Controller) shapeSnapshot(kind WidgetKind, snap capability.Snapshot, deviceType string, now time.Time) View {
	switch kind {
	case KindPorts:
		ports := c.registry.RenderPorts(snap, deviceType)
		return View{
			Ports:     &ports,
			HTML:      capability.PortsHTML(ports),
			UpdatedAt: now,
		}
	case KindTemperatures:
		return View{Temperatures: c.registry.Temperatures(snap, deviceType), UpdatedAt: now}
	default:
		return View{
			Fields:    c.registry.FlattenSysinfo(snap, deviceType),
			Slots:     c.registry.Slots(snap, deviceType),
			UpdatedAt: now,
		}
	}
}

// errorCounterFields flattens the per-port error counter response into
// display rows, one per port key.
func errorCounterFields(response any) []capability.Field {
	data, ok := response.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]capability.Field, 0, len(keys))
	for _, k := range keys {
		entry, ok := data[k].(map[string]any)
		if !ok {
			continue
		}
		connector, _ := entry["connector"].(string)
		total := 0
		if v, ok := entry["total_errors"].(float64); ok {
			total = int(v)
		}
		fields = append(fields, capability.Field{
			Label: fmt.Sprintf("Port %v (%s)", entry["port"], connector),
			Value: fmt.Sprintf("%d errors", total),
		})
	}
	return fields
}

// storeView writes the view and last payload, caches the payload for
// export, and notifies push subscribers.
func (c *Controller) storeView(w *Widget, view View, payload any) {
	var raw json.RawMessage
	if payload != nil {
		if buf, err := json.Marshal(payload); err == nil {
			raw = buf
		}
	}
	c.mu.Lock()
	w.View = view
	if raw != nil {
		w.LastPayload = raw
	}
	deviceID := w.DeviceID
	kind := string(w.Kind)
	c.mu.Unlock()

	if raw != nil && deviceID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.snapshots.Set(ctx, deviceID, kind, raw); err != nil {
			slog.Debug("snapshot cache write failed", "device_id", deviceID, "error", err)
		}
		cancel()
	}
	c.pushUpdate(w.ID, view)
}

func (c *Controller) pushUpdate(widgetID string, view View) {
	if c.onUpdate != nil {
		c.onUpdate(widgetID, view)
	}
}

// ---------------------------------------------------------------------------
// Command flows

// dangerous reports whether a command needs explicit confirmation: the
// hardware action itself terminates the serial session or power-cycles
// the box.
func dangerous(deviceType, command string, params map[string]any) bool {
	switch deviceType {
	case capability.DeviceTypeAtlas3:
		return command == "setmode"
	case capability.DeviceTypeHydra:
		if command != "syspwr" {
			return false
		}
		state, _ := params["state"].(string)
		return strings.EqualFold(state, "off")
	}
	return false
}

// CommandSubmission is the outcome of a control batch, including what was
// dropped by validation.
type CommandSubmission struct {
	Outcome   *backend.ControlOutcome `json:"outcome"`
	Submitted []string                `json:"submitted"`
	Skipped   []string                `json:"skipped,omitempty"`
}

// SubmitCommands groups raw form values ("command.param" keys) into
// commands, drops empty values, validates each group through the
// registry, and submits the validated subset as one batch. Dangerous
// commands are refused without confirm. A disconnect outcome resets the
// device binding, since the hardware action killed the serial session.
func (c *Controller) SubmitCommands(ctx context.Context, widgetID string, values map[string]any, confirm bool) (*CommandSubmission, error) {
	c.mu.Lock()
	w, ok := c.widgets[widgetID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrWidgetNotFound
	}
	deviceID, deviceType := w.DeviceID, w.DeviceType
	c.mu.Unlock()
	if deviceID == "" {
		return nil, ErrWidgetUnbound
	}

	grouped := groupCommandValues(values)

	var commands []backend.ControlCommand
	var skipped []string
	var needConfirm []string
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		params := grouped[name]
		if !c.registry.ValidCommand(name, params, deviceType) {
			skipped = append(skipped, name)
			continue
		}
		if dangerous(deviceType, name, params) && !confirm {
			needConfirm = append(needConfirm, name)
			continue
		}
		commands = append(commands, backend.ControlCommand{Command: name, Params: params})
	}
	if len(needConfirm) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrConfirmationRequired, strings.Join(needConfirm, ", "))
	}
	if len(commands) == 0 {
		return nil, ErrNoValidCommands
	}

	outcome, err := c.client.Control(ctx, deviceID, commands)
	if err != nil {
		return nil, err
	}
	observability.CommandBatches.WithLabelValues(deviceType).Inc()
	slog.Info("command batch submitted", "device_id", deviceID, "commands", len(commands),
		"disconnect", outcome.Disconnect)

	if outcome.Disconnect {
		// The command ended the serial session on the hardware side; drop
		// the backend session too, tolerating the session being gone.
		if err := c.client.Disconnect(ctx, deviceID); err != nil {
			slog.Debug("post-command disconnect", "device_id", deviceID, "error", err)
		}
		c.forgetDevice(ctx, deviceID)
	}

	submitted := make([]string, 0, len(commands))
	for _, cmd := range commands {
		submitted = append(submitted, cmd.Command)
	}
	return &CommandSubmission{Outcome: outcome, Submitted: submitted, Skipped: skipped}, nil
}

// groupCommandValues turns flat "command.param" form values into
// per-command param maps, dropping empty and undefined entries.
func groupCommandValues(values map[string]any) map[string]map[string]any {
	grouped := make(map[string]map[string]any)
	for key, value := range values {
		name, param, ok := strings.Cut(key, ".")
		if !ok || name == "" || param == "" {
			continue
		}
		if value == nil {
			continue
		}
		if s, isStr := value.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		if _, ok := grouped[name]; !ok {
			grouped[name] = make(map[string]any)
		}
		grouped[name][param] = value
	}
	return grouped
}

// Console executes one raw command through the backend's single-command
// endpoint.
func (c *Controller) Console(ctx context.Context, deviceID, command string, params map[string]any) (*backend.CommandResult, error) {
	if command == "" {
		return nil, errors.New("command is required")
	}
	c.mu.Lock()
	_, known := c.devices[deviceID]
	c.mu.Unlock()
	if !known {
		return nil, ErrDeviceNotFound
	}
	return c.client.Command(ctx, deviceID, command, params)
}

// RegisterOp validates and executes a register read or write. Malformed
// addresses and values are rejected before any network call.
func (c *Controller) RegisterOp(ctx context.Context, deviceID, op, address, value string) (*backend.CommandResult, error) {
	op = strings.ToLower(strings.TrimSpace(op))
	if op != "read" && op != "write" {
		return nil, errInvalidRegisterOp
	}
	addr, err := parseHex(address)
	if err != nil {
		return nil, errInvalidRegisterAddr
	}
	params := map[string]any{"address": fmt.Sprintf("0x%X", addr)}
	command := "regread"
	if op == "write" {
		val, err := parseHex(value)
		if err != nil {
			return nil, errInvalidRegisterValue
		}
		command = "regwrite"
		params["value"] = fmt.Sprintf("0x%X", val)
	}
	return c.Console(ctx, deviceID, command, params)
}
