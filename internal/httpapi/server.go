package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jpmutschler/prometheus/internal/backend"
	"github.com/jpmutschler/prometheus/internal/dashboard"
)

// Server exposes the dashboard REST surface: widget lifecycle on top of
// the controller plus thin pass-throughs to the serial backend for
// connection management.
type Server struct {
	controller *dashboard.Controller
	client     *backend.Client
	ws         http.Handler
	metrics    http.Handler
	tracemw    func(http.Handler) http.Handler
}

func NewServer(controller *dashboard.Controller, client *backend.Client, ws, metrics http.Handler, tracemw func(http.Handler) http.Handler) *Server {
	return &Server{controller: controller, client: client, ws: ws, metrics: metrics, tracemw: tracemw}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if s.tracemw != nil {
		r.Use(s.tracemw)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/widgets", func(r chi.Router) {
			r.Post("/", s.handleCreateWidget)
			r.Get("/", s.handleListWidgets)
			r.Route("/{widgetID}", func(r chi.Router) {
				r.Get("/", s.handleGetWidget)
				r.Delete("/", s.handleDeleteWidget)
				r.Post("/bind", s.handleBindWidget)
				r.Post("/refresh", s.handleRefreshWidget)
				r.Put("/auto-refresh", s.handleAutoRefresh)
				r.Get("/view", s.handleWidgetView)
				r.Get("/export", s.handleExportWidget)
				r.Post("/commands", s.handleSubmitCommands)
			})
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleDeviceList)
			r.Route("/{deviceID}", func(r chi.Router) {
				r.Post("/console", s.handleConsole)
				r.Get("/commands", s.handleDeviceCommands)
				r.Post("/register", s.handleRegisterOp)
			})
		})

		r.Get("/ports", s.handlePorts)
		r.Get("/device-types", s.handleDeviceTypes)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect/{deviceID}", s.handleDisconnect)
		r.Post("/detect-all", s.handleDetectAll)
	})

	return r
}

// ---------------------------------------------------------------------------
// Widgets

type createWidgetRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	var req createWidgetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	widget, err := s.controller.CreateWidget(dashboard.WidgetKind(req.Kind))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, widget)
}

func (s *Server) handleListWidgets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"widgets": s.controller.Widgets()})
}

func (s *Server) handleGetWidget(w http.ResponseWriter, r *http.Request) {
	widget, err := s.controller.Widget(chi.URLParam(r, "widgetID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	writeJSON(w, http.StatusOK, widget)
}

func (s *Server) handleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RemoveWidget(chi.URLParam(r, "widgetID")); err != nil {
		writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bindRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleBindWidget(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	err := s.controller.Bind(r.Context(), chi.URLParam(r, "widgetID"), req.DeviceID)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	widget, err := s.controller.Widget(chi.URLParam(r, "widgetID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	writeJSON(w, http.StatusOK, widget)
}

func (s *Server) handleRefreshWidget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "widgetID")
	if _, err := s.controller.Widget(id); err != nil {
		writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	s.controller.RefreshWidget(r.Context(), id)
	widget, err := s.controller.Widget(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"view": widget.View})
}

type autoRefreshRequest struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
}

func (s *Server) handleAutoRefresh(w http.ResponseWriter, r *http.Request) {
	var req autoRefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	interval := time.Duration(req.IntervalSeconds) * time.Second
	err := s.controller.SetAutoRefresh(chi.URLParam(r, "widgetID"), req.Enabled, interval)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          req.Enabled,
		"interval_seconds": req.IntervalSeconds,
	})
}

func (s *Server) handleWidgetView(w http.ResponseWriter, r *http.Request) {
	widget, err := s.controller.Widget(chi.URLParam(r, "widgetID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"view": widget.View})
}

func (s *Server) handleExportWidget(w http.ResponseWriter, r *http.Request) {
	format := dashboard.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = dashboard.FormatJSON
	}
	filename, contentType, body, err := s.controller.Export(chi.URLParam(r, "widgetID"), format)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type submitCommandsRequest struct {
	Values  map[string]any `json:"values"`
	Confirm bool           `json:"confirm"`
}

func (s *Server) handleSubmitCommands(w http.ResponseWriter, r *http.Request) {
	var req submitCommandsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "values are required")
		return
	}
	result, err := s.controller.SubmitCommands(r.Context(), chi.URLParam(r, "widgetID"), req.Values, req.Confirm)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// Device operations

type consoleRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	var req consoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	result, err := s.controller.Console(r.Context(), chi.URLParam(r, "deviceID"), req.Command, req.Params)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := s.client.Commands(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

type registerRequest struct {
	Op      string `json:"op"`
	Address string `json:"address"`
	Value   string `json:"value"`
}

func (s *Server) handleRegisterOp(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.controller.RegisterOp(r.Context(), chi.URLParam(r, "deviceID"), req.Op, req.Address, req.Value)
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// ---------------------------------------------------------------------------
// Backend pass-throughs

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.client.Ports(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	devices, err := s.client.Devices(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleDeviceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.client.DeviceTypes(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_types": types})
}

type connectRequest struct {
	DeviceType string `json:"device_type"`
	ComPort    string `json:"com_port"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceType == "" || req.ComPort == "" {
		writeError(w, http.StatusBadRequest, "device_type and com_port are required")
		return
	}
	res, err := s.controller.Connect(r.Context(), req.DeviceType, req.ComPort)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": res.DeviceID, "info": res.Info})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Disconnect(r.Context(), chi.URLParam(r, "deviceID")); err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

type detectAllRequest struct {
	UseCache bool `json:"use_cache"`
}

func (s *Server) handleDetectAll(w http.ResponseWriter, r *http.Request) {
	var req detectAllRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.client.DetectAll(r.Context(), req.UseCache)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// Helpers

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dashboard.ErrWidgetNotFound),
		errors.Is(err, dashboard.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dashboard.ErrConfirmationRequired):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":                 err.Error(),
			"confirmation_required": true,
		})
	case errors.Is(err, dashboard.ErrNoValidCommands),
		errors.Is(err, dashboard.ErrWidgetUnbound),
		errors.Is(err, dashboard.ErrNothingToExport):
		writeError(w, http.StatusBadRequest, err.Error())
	case backend.IsAPIError(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		// Controller input validation errors are client mistakes; anything
		// reaching the backend and failing surfaced above.
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	slog.Warn("backend request failed", "error", err)
	writeError(w, http.StatusBadGateway, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	defer r.Body.Close()
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body required")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
