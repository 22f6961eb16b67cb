package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpmutschler/prometheus/internal/capability"
)

// APIError is a failure the backend reported itself (success:false with a
// message). It is distinct from transport errors so callers can surface
// the backend's own wording inline.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return e.Message
}

// IsAPIError reports whether err carries a backend-reported failure.
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

// Client talks to the serial backend's REST surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		tracer: otel.Tracer("backend"),
	}
}

// envelope is the common {success, error} wrapper every backend response
// carries alongside its payload fields.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, method+" "+path)
	defer span.End()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return fmt.Errorf("read backend response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("decode backend response: %w", err)
	}
	if env.Error != "" || (!env.Success && resp.StatusCode >= 400) {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode backend response: %w", err)
		}
	}
	return nil
}

// Ports lists the backend host's COM ports.
func (c *Client) Ports(ctx context.Context) ([]PortInfo, error) {
	var resp struct {
		Ports []PortInfo `json:"ports"`
	}
	if err := c.get(ctx, "/api/ports", &resp); err != nil {
		return nil, err
	}
	return resp.Ports, nil
}

// Devices lists live backend connections.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.get(ctx, "/api/devices", &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// DeviceTypes lists the device families the backend can drive.
func (c *Client) DeviceTypes(ctx context.Context) ([]string, error) {
	var resp struct {
		DeviceTypes []string `json:"device_types"`
	}
	if err := c.get(ctx, "/api/device-types", &resp); err != nil {
		return nil, err
	}
	return resp.DeviceTypes, nil
}

// Connect opens a serial session for a device type on a COM port.
func (c *Client) Connect(ctx context.Context, deviceType, comPort string) (*ConnectResult, error) {
	req := map[string]string{"device_type": deviceType, "com_port": comPort}
	var resp struct {
		DeviceID string     `json:"device_id"`
		Info     DeviceInfo `json:"info"`
	}
	if err := c.post(ctx, "/api/connect", req, &resp); err != nil {
		return nil, err
	}
	return &ConnectResult{DeviceID: resp.DeviceID, Info: resp.Info}, nil
}

// Disconnect drops a serial session.
func (c *Client) Disconnect(ctx context.Context, deviceID string) error {
	return c.post(ctx, "/api/disconnect/"+url.PathEscape(deviceID), nil, nil)
}

// DetectAll scans all unconnected COM ports for known devices.
func (c *Client) DetectAll(ctx context.Context, useCache bool) (*DetectAllResult, error) {
	req := map[string]bool{"use_cache": useCache}
	var resp DetectAllResult
	if err := c.post(ctx, "/api/detect-all", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sysinfo fetches one status snapshot for a device.
func (c *Client) Sysinfo(ctx context.Context, deviceID string) (capability.Snapshot, error) {
	var resp struct {
		Sysinfo map[string]any `json:"sysinfo"`
	}
	if err := c.get(ctx, "/api/device/"+url.PathEscape(deviceID)+"/sysinfo", &resp); err != nil {
		return nil, err
	}
	return capability.Snapshot(resp.Sysinfo), nil
}

// ControlStatus fetches the current control settings for a device.
func (c *Client) ControlStatus(ctx context.Context, deviceID string) (map[string]any, error) {
	var resp struct {
		Status map[string]any `json:"status"`
	}
	if err := c.get(ctx, "/api/device/"+url.PathEscape(deviceID)+"/control-status", &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// Control submits a validated command batch.
func (c *Client) Control(ctx context.Context, deviceID string, commands []ControlCommand) (*ControlOutcome, error) {
	req := map[string]any{"commands": commands}
	var resp struct {
		Results    []ControlResult `json:"results"`
		Disconnect bool            `json:"disconnect"`
	}
	if err := c.post(ctx, "/api/device/"+url.PathEscape(deviceID)+"/control", req, &resp); err != nil {
		return nil, err
	}
	return &ControlOutcome{Results: resp.Results, Disconnect: resp.Disconnect}, nil
}

// Command executes a single console command.
func (c *Client) Command(ctx context.Context, deviceID, command string, params map[string]any) (*CommandResult, error) {
	req := map[string]any{"command": command, "params": params}
	var resp struct {
		Result CommandResult `json:"result"`
	}
	if err := c.post(ctx, "/api/device/"+url.PathEscape(deviceID)+"/command", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// Commands fetches the command catalog for a device.
func (c *Client) Commands(ctx context.Context, deviceID string) ([]CommandSpec, error) {
	var resp struct {
		Commands []CommandSpec `json:"commands"`
	}
	if err := c.get(ctx, "/api/device/"+url.PathEscape(deviceID)+"/commands", &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}
