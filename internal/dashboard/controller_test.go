package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpmutschler/prometheus/internal/backend"
	"github.com/jpmutschler/prometheus/internal/cache"
	"github.com/jpmutschler/prometheus/internal/capability"
)

// fakeBackend stands in for the serial backend's REST surface. Each
// connect mints a fresh device id; sysinfo fetches are counted per
// device so tests can observe refresh traffic.
type fakeBackend struct {
	mu             sync.Mutex
	connects       int
	sysinfoCalls   map[string]int
	controlBodies  []map[string]any
	disconnects    []string
	disconnectNext bool
	failSysinfo    bool
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connect", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.connects++
		id := fmt.Sprintf("dev%d", f.connects)
		f.mu.Unlock()
		writeOK(w, map[string]any{
			"device_id": id,
			"info": map[string]any{
				"device_type": req["device_type"],
				"com_port":    req["com_port"],
				"model":       "X",
			},
		})
	})
	mux.HandleFunc("POST /api/disconnect/{deviceID}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.disconnects = append(f.disconnects, r.PathValue("deviceID"))
		f.mu.Unlock()
		writeOK(w, nil)
	})
	mux.HandleFunc("GET /api/device/{deviceID}/sysinfo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if f.sysinfoCalls == nil {
			f.sysinfoCalls = make(map[string]int)
		}
		f.sysinfoCalls[r.PathValue("deviceID")]++
		fail := f.failSysinfo
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "serial timeout"})
			return
		}
		writeOK(w, map[string]any{
			"sysinfo": map[string]any{
				"version": map[string]any{"model": "X", "serial_number": "123"},
				"thermal": map[string]any{"switch_temp": 45.2},
			},
		})
	})
	mux.HandleFunc("POST /api/device/{deviceID}/control", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.controlBodies = append(f.controlBodies, body)
		disconnect := f.disconnectNext
		f.mu.Unlock()
		writeOK(w, map[string]any{
			"results":    []any{map[string]any{"command": "any", "success": true}},
			"disconnect": disconnect,
		})
	})
	return mux
}

func (f *fakeBackend) sysinfoCount(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sysinfoCalls[deviceID]
}

func writeOK(w http.ResponseWriter, extra map[string]any) {
	payload := map[string]any{"success": true}
	for k, v := range extra {
		payload[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeBackend) submittedCommands(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.controlBodies) == 0 {
		t.Fatal("no control batch reached the backend")
	}
	raw, _ := f.controlBodies[len(f.controlBodies)-1]["commands"].([]any)
	names := make([]string, 0, len(raw))
	for _, item := range raw {
		m, _ := item.(map[string]any)
		name, _ := m["command"].(string)
		names = append(names, name)
	}
	return names
}

type fakeSubscriber struct {
	mu     sync.Mutex
	subs   []string
	unsubs []string
}

func (s *fakeSubscriber) Subscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, id)
}

func (s *fakeSubscriber) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubs = append(s.unsubs, id)
}

func newTestController(t *testing.T, fb *fakeBackend) (*Controller, *fakeSubscriber) {
	t.Helper()
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	sub := &fakeSubscriber{}
	c := NewController(Options{
		Registry: capability.DefaultRegistry(),
		Client:   backend.NewClient(srv.URL),
		Realtime: sub,
	})
	t.Cleanup(c.Close)
	return c, sub
}

func connectAtlas3(t *testing.T, c *Controller) string {
	t.Helper()
	res, err := c.Connect(context.Background(), capability.DeviceTypeAtlas3, "COM3")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return res.DeviceID
}

func TestBindFetchesSysinfoView(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	deviceID := connectAtlas3(t, c)

	w, err := c.CreateWidget(KindSysinfo)
	if err != nil {
		t.Fatalf("create widget: %v", err)
	}
	if err := c.Bind(context.Background(), w.ID, deviceID); err != nil {
		t.Fatalf("bind: %v", err)
	}

	got, err := c.Widget(w.ID)
	if err != nil {
		t.Fatalf("widget lookup: %v", err)
	}
	if got.DeviceID != deviceID || got.DeviceType != capability.DeviceTypeAtlas3 {
		t.Fatalf("binding not recorded: %+v", got)
	}
	byLabel := map[string]string{}
	for _, f := range got.View.Fields {
		byLabel[f.Label] = f.Value
	}
	if byLabel["Model"] != "X" || byLabel["Switch Temp"] != "45.2°C" {
		t.Fatalf("view fields = %v", byLabel)
	}
}

func TestBindUnknownDevice(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	w, _ := c.CreateWidget(KindStatus)
	if err := c.Bind(context.Background(), w.ID, "ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestStatusWidgetSubscribes(t *testing.T) {
	c, sub := newTestController(t, &fakeBackend{})
	deviceID := connectAtlas3(t, c)

	w, _ := c.CreateWidget(KindStatus)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.subs) != 1 || sub.subs[0] != deviceID {
		t.Fatalf("subscriptions = %v", sub.subs)
	}
}

func TestApplyStatusUpdateRefreshesStatusWidgets(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	deviceID := connectAtlas3(t, c)
	w, _ := c.CreateWidget(KindStatus)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	c.ApplyStatusUpdate(backend.StatusUpdate{
		DeviceID: deviceID,
		Status:   map[string]any{"mode": "base"},
	})

	got, _ := c.Widget(w.ID)
	if !strings.Contains(got.View.HTML, "Operation Mode") || !strings.Contains(got.View.HTML, "base") {
		t.Fatalf("pushed status not rendered: %q", got.View.HTML)
	}
	if got.View.Template != "atlas3-control" {
		t.Fatalf("template = %q", got.View.Template)
	}

	// Updates for unknown devices are dropped quietly.
	c.ApplyStatusUpdate(backend.StatusUpdate{DeviceID: "ghost", Status: map[string]any{}})
}

func TestRefreshFailureBecomesPlaceholder(t *testing.T) {
	fb := &fakeBackend{failSysinfo: true}
	c, _ := newTestController(t, fb)
	deviceID := connectAtlas3(t, c)

	w, _ := c.CreateWidget(KindSysinfo)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	got, _ := c.Widget(w.ID)
	if !strings.HasPrefix(got.View.Placeholder, "Error:") {
		t.Fatalf("placeholder = %q", got.View.Placeholder)
	}
	if !strings.Contains(got.View.Placeholder, "serial timeout") {
		t.Fatalf("backend wording lost: %q", got.View.Placeholder)
	}
}

func TestSubmitCommandsGroupsAndDropsEmpties(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := newTestController(t, fb)
	deviceID := connectAtlas3(t, c)

	w, _ := c.CreateWidget(KindStatus)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	values := map[string]any{
		"clk.enable":       "1",
		"spread.mode":      "  ",   // empty after trim, spread gets no params
		"conrst.connector": "P1",
		"bogus.param":      "x",    // unknown command, dropped by validation
		"noparam":          "oops", // no dot, ignored
	}
	res, err := c.SubmitCommands(context.Background(), w.ID, values, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	submitted := fb.submittedCommands(t)
	if len(submitted) != 2 {
		t.Fatalf("submitted = %v, want clk and conrst only", submitted)
	}
	for _, name := range submitted {
		if name != "clk" && name != "conrst" {
			t.Fatalf("unexpected command %q in %v", name, submitted)
		}
	}
	found := false
	for _, skipped := range res.Skipped {
		if skipped == "bogus" {
			found = true
		}
	}
	if !found {
		t.Fatalf("bogus should be reported skipped: %v", res.Skipped)
	}
}

func TestSubmitCommandsAllInvalid(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	deviceID := connectAtlas3(t, c)
	w, _ := c.CreateWidget(KindStatus)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	_, err := c.SubmitCommands(context.Background(), w.ID, map[string]any{"bogus.x": "1"}, false)
	if !errors.Is(err, ErrNoValidCommands) {
		t.Fatalf("err = %v, want ErrNoValidCommands", err)
	}
}

func TestSubmitCommandsRequiresConfirmation(t *testing.T) {
	fb := &fakeBackend{}
	c, _ := newTestController(t, fb)
	deviceID := connectAtlas3(t, c)
	w, _ := c.CreateWidget(KindStatus)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	values := map[string]any{"setmode.mode": "2"}
	_, err := c.SubmitCommands(context.Background(), w.ID, values, false)
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("err = %v, want ErrConfirmationRequired", err)
	}
	fb.mu.Lock()
	batches := len(fb.controlBodies)
	fb.mu.Unlock()
	if batches != 0 {
		t.Fatal("nothing may reach the backend before confirmation")
	}

	if _, err := c.SubmitCommands(context.Background(), w.ID, values, true); err != nil {
		t.Fatalf("confirmed submit: %v", err)
	}
	if submitted := fb.submittedCommands(t); len(submitted) != 1 || submitted[0] != "setmode" {
		t.Fatalf("submitted = %v", submitted)
	}
}

func TestDisconnectOutcomeResetsBinding(t *testing.T) {
	fb := &fakeBackend{disconnectNext: true}
	c, sub := newTestController(t, fb)
	deviceID := connectAtlas3(t, c)
	w, _ := c.CreateWidget(KindStatus)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	res, err := c.SubmitCommands(context.Background(), w.ID,
		map[string]any{"setmode.mode": "2"}, true)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Outcome.Disconnect {
		t.Fatal("disconnect flag lost")
	}

	got, _ := c.Widget(w.ID)
	if got.DeviceID != "" || got.AutoRefresh {
		t.Fatalf("widget still bound after disconnect: %+v", got)
	}
	if got.View.Placeholder != "Device disconnected" {
		t.Fatalf("placeholder = %q", got.View.Placeholder)
	}
	if _, ok := c.DeviceType(deviceID); ok {
		t.Fatal("device state should be cleared")
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.unsubs) != 1 || sub.unsubs[0] != deviceID {
		t.Fatalf("unsubscribes = %v", sub.unsubs)
	}
}

func TestAutoRefreshBounds(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	deviceID := connectAtlas3(t, c)
	w, _ := c.CreateWidget(KindSysinfo)
	_ = c.Bind(context.Background(), w.ID, deviceID)

	if err := c.SetAutoRefresh(w.ID, true, 100*time.Millisecond); err == nil {
		t.Fatal("sub-second interval must be rejected")
	}
	if err := c.SetAutoRefresh(w.ID, true, time.Hour); err == nil {
		t.Fatal("over-max interval must be rejected")
	}
	if err := c.SetAutoRefresh(w.ID, true, 2*time.Second); err != nil {
		t.Fatalf("valid interval rejected: %v", err)
	}
	if err := c.SetAutoRefresh(w.ID, false, 0); err != nil {
		t.Fatalf("disable: %v", err)
	}
}

func TestAutoRefreshRequiresBinding(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	w, _ := c.CreateWidget(KindSysinfo)
	if err := c.SetAutoRefresh(w.ID, true, 2*time.Second); !errors.Is(err, ErrWidgetUnbound) {
		t.Fatalf("err = %v, want ErrWidgetUnbound", err)
	}
}

func TestRegisterOpValidatesHexLocally(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	deviceID := connectAtlas3(t, c)

	if _, err := c.RegisterOp(context.Background(), deviceID, "read", "zzz", ""); err == nil {
		t.Fatal("bad address must be rejected")
	}
	if _, err := c.RegisterOp(context.Background(), deviceID, "write", "0x1000", "nope"); err == nil {
		t.Fatal("bad value must be rejected")
	}
	if _, err := c.RegisterOp(context.Background(), deviceID, "poke", "0x1000", "0x1"); err == nil {
		t.Fatal("unknown op must be rejected")
	}
}

func TestBindSeedsViewFromCache(t *testing.T) {
	// Sysinfo fetches fail, so anything the widget shows must have come
	// from the snapshot cache.
	fb := &fakeBackend{failSysinfo: true}
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	snaps := cache.NewMemory(0)
	var mu sync.Mutex
	var views []View
	c := NewController(Options{
		Registry:  capability.DefaultRegistry(),
		Client:    backend.NewClient(srv.URL),
		Snapshots: snaps,
		OnUpdate: func(_ string, v View) {
			mu.Lock()
			views = append(views, v)
			mu.Unlock()
		},
	})
	t.Cleanup(c.Close)
	deviceID := connectAtlas3(t, c)

	payload := []byte(`{"version":{"model":"Atlas3","serial_number":"SN9"},"thermal":{"switch_temp":50}}`)
	if err := snaps.Set(context.Background(), deviceID, string(KindSysinfo), payload); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	w, _ := c.CreateWidget(KindSysinfo)
	if err := c.Bind(context.Background(), w.ID, deviceID); err != nil {
		t.Fatalf("bind: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(views) < 2 {
		t.Fatalf("got %d view updates, want cached seed then fetch result", len(views))
	}
	byLabel := map[string]string{}
	for _, f := range views[0].Fields {
		byLabel[f.Label] = f.Value
	}
	if byLabel["Model"] != "Atlas3" || byLabel["Serial Number"] != "SN9" {
		t.Fatalf("cached view fields = %v", byLabel)
	}
	// The failed one-shot fetch lands after the cached view.
	if !strings.HasPrefix(views[len(views)-1].Placeholder, "Error:") {
		t.Fatalf("final view = %+v", views[len(views)-1])
	}
}

func TestRebindCancelsAutoRefresh(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)

	c := NewController(Options{
		Registry:    capability.DefaultRegistry(),
		Client:      backend.NewClient(srv.URL),
		MinInterval: 10 * time.Millisecond,
	})
	t.Cleanup(c.Close)

	first := connectAtlas3(t, c)
	second := connectAtlas3(t, c)
	if first == second {
		t.Fatalf("backend fake reused device id %q", first)
	}

	w, _ := c.CreateWidget(KindSysinfo)
	if err := c.Bind(context.Background(), w.ID, first); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := c.SetAutoRefresh(w.ID, true, 20*time.Millisecond); err != nil {
		t.Fatalf("auto-refresh: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for fb.sysinfoCount(first) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("auto-refresh never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Bind(context.Background(), w.ID, second); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	if c.refresher.Active(w.ID) {
		t.Fatal("refresh task survived rebinding")
	}
	got, _ := c.Widget(w.ID)
	if got.AutoRefresh {
		t.Fatal("auto-refresh flag survived rebinding")
	}
	if got.DeviceID != second {
		t.Fatalf("bound to %q, want %q", got.DeviceID, second)
	}

	frozen := fb.sysinfoCount(first)
	time.Sleep(100 * time.Millisecond)
	if n := fb.sysinfoCount(first); n != frozen {
		t.Fatalf("old device still being fetched after rebind: %d -> %d", frozen, n)
	}
	if fb.sysinfoCount(second) == 0 {
		t.Fatal("new binding never fetched")
	}
}

func TestRemoveWidgetStopsRefresh(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})
	deviceID := connectAtlas3(t, c)
	w, _ := c.CreateWidget(KindSysinfo)
	_ = c.Bind(context.Background(), w.ID, deviceID)
	_ = c.SetAutoRefresh(w.ID, true, 2*time.Second)

	if err := c.RemoveWidget(w.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := c.Widget(w.ID); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("err = %v, want ErrWidgetNotFound", err)
	}
	if c.refresher.Active(w.ID) {
		t.Fatal("refresh task survived widget removal")
	}
}
