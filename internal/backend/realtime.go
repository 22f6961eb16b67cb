package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one realtime channel message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusUpdate is pushed by the backend for every subscribed device.
type StatusUpdate struct {
	DeviceID string         `json:"device_id"`
	Status   map[string]any `json:"status"`
}

// RealtimeHandlers receives decoded server events. Nil fields are
// skipped.
type RealtimeHandlers struct {
	OnStatusUpdate  func(StatusUpdate)
	OnCommandResult func(deviceID string, result CommandResult)
	OnError         func(message string)
}

// Realtime maintains the websocket session to the backend, resubscribing
// after reconnects. Writes are serialized through a single mutex; reads
// run on one goroutine per connection.
type Realtime struct {
	url      string
	handlers RealtimeHandlers

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[string]struct{}
	closed        bool
}

func NewRealtime(url string, handlers RealtimeHandlers) *Realtime {
	return &Realtime{
		url:           url,
		handlers:      handlers,
		subscriptions: make(map[string]struct{}),
	}
}

// Run connects and keeps the session alive until ctx is canceled.
// Reconnect delay is capped; each successful connect replays the current
// subscription set.
func (r *Realtime) Run(ctx context.Context) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
		if err != nil {
			slog.Warn("realtime connect failed", "url", r.url, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay < 30*time.Second {
				delay *= 2
			}
			continue
		}
		delay = time.Second
		slog.Info("realtime channel connected", "url", r.url)

		r.mu.Lock()
		r.conn = conn
		subs := make([]string, 0, len(r.subscriptions))
		for id := range r.subscriptions {
			subs = append(subs, id)
		}
		r.mu.Unlock()
		for _, id := range subs {
			r.send(Frame{Event: "subscribe", Data: marshalDeviceID(id)})
		}

		r.readLoop(ctx, conn)

		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		_ = conn.Close()
	}
}

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				slog.Warn("realtime channel dropped", "error", err)
			}
			return
		}
		r.dispatch(frame)
	}
}

func (r *Realtime) dispatch(frame Frame) {
	switch frame.Event {
	case "status_update":
		if r.handlers.OnStatusUpdate == nil {
			return
		}
		var update StatusUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			slog.Debug("status_update decode failed", "error", err)
			return
		}
		r.handlers.OnStatusUpdate(update)
	case "command_result":
		if r.handlers.OnCommandResult == nil {
			return
		}
		var payload struct {
			DeviceID string        `json:"device_id"`
			Result   CommandResult `json:"result"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			slog.Debug("command_result decode failed", "error", err)
			return
		}
		r.handlers.OnCommandResult(payload.DeviceID, payload.Result)
	case "error":
		if r.handlers.OnError == nil {
			return
		}
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		r.handlers.OnError(payload.Message)
	}
}

// Subscribe starts status pushes for a device id.
func (r *Realtime) Subscribe(deviceID string) {
	r.mu.Lock()
	r.subscriptions[deviceID] = struct{}{}
	r.mu.Unlock()
	r.send(Frame{Event: "subscribe", Data: marshalDeviceID(deviceID)})
}

// Unsubscribe stops status pushes for a device id.
func (r *Realtime) Unsubscribe(deviceID string) {
	r.mu.Lock()
	delete(r.subscriptions, deviceID)
	r.mu.Unlock()
	r.send(Frame{Event: "unsubscribe", Data: marshalDeviceID(deviceID)})
}

func (r *Realtime) send(frame Frame) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		// Not connected; the subscription set is replayed on reconnect.
		return
	}
	r.mu.Lock()
	err := conn.WriteJSON(frame)
	r.mu.Unlock()
	if err != nil {
		slog.Debug("realtime send failed", "event", frame.Event, "error", err)
	}
}

func marshalDeviceID(id string) json.RawMessage {
	buf, _ := json.Marshal(map[string]string{"device_id": id})
	return buf
}
