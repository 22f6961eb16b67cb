package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jpmutschler/prometheus/internal/backend"
	"github.com/jpmutschler/prometheus/internal/cache"
	"github.com/jpmutschler/prometheus/internal/capability"
	"github.com/jpmutschler/prometheus/internal/config"
	"github.com/jpmutschler/prometheus/internal/dashboard"
	"github.com/jpmutschler/prometheus/internal/httpapi"
	"github.com/jpmutschler/prometheus/internal/observability"
	"github.com/jpmutschler/prometheus/internal/realtime"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	shutdownObs, promHandler, tracer := observability.Setup("prometheus-dashboard")
	defer shutdownObs()

	registry := capability.DefaultRegistry()
	client := backend.NewClient(cfg.Backend.BaseURL)

	var snapshots cache.SnapshotCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		snapshots = cache.NewRedis(rdb, cfg.RedisTTL())
		slog.Info("using redis snapshot cache", "addr", cfg.Redis.Addr)
	} else {
		snapshots = cache.NewMemory(cfg.RedisTTL())
	}

	hub := realtime.NewHub()
	observability.RegisterBrowserGauge(hub.ClientCount)

	var rt *backend.Realtime
	controller := dashboard.NewController(dashboard.Options{
		Registry:    registry,
		Client:      client,
		Snapshots:   snapshots,
		MinInterval: cfg.MinInterval(),
		MaxInterval: cfg.MaxInterval(),
		OnUpdate: func(widgetID string, view dashboard.View) {
			payload, err := json.Marshal(view)
			if err != nil {
				return
			}
			hub.Broadcast(realtime.Event{
				Type:     realtime.EventWidgetUpdate,
				WidgetID: widgetID,
				Payload:  payload,
			})
		},
		OnDeviceGone: func(deviceID string) {
			hub.Broadcast(realtime.Event{
				Type:     realtime.EventDeviceOffline,
				DeviceID: deviceID,
			})
		},
	})
	defer controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Backend.WSURL != "" {
		rt = backend.NewRealtime(cfg.Backend.WSURL, backend.RealtimeHandlers{
			OnStatusUpdate: controller.ApplyStatusUpdate,
			OnCommandResult: func(deviceID string, result backend.CommandResult) {
				payload, err := json.Marshal(result)
				if err != nil {
					return
				}
				hub.Broadcast(realtime.Event{
					Type:     realtime.EventCommandResult,
					DeviceID: deviceID,
					Payload:  payload,
				})
			},
			OnError: func(message string) {
				slog.Warn("backend realtime error", "message", message)
			},
		})
		controller.SetRealtime(rt)
		go rt.Run(ctx)
	} else {
		slog.Warn("no backend ws url configured, status push disabled")
	}

	srv := httpapi.NewServer(controller, client, hub, promHandler, observability.Middleware(tracer))

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("dashboard started", "addr", cfg.ListenAddr, "backend", cfg.Backend.BaseURL)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
