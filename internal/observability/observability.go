package observability

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_requests_total",
			Help: "Total HTTP requests by endpoint and method.",
		},
		[]string{"endpoint", "method"},
	)
	WidgetRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_widget_refreshes_total",
			Help: "Widget refresh fetches by widget kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	CommandBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_command_batches_total",
			Help: "Submitted control command batches by device type.",
		},
		[]string{"device_type"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, WidgetRefreshes, CommandBatches)
}

// RegisterBrowserGauge exposes the current number of connected browser
// sessions as a gauge. Called once at startup with the hub's counter.
func RegisterBrowserGauge(count func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dashboard_connected_browsers",
			Help: "Browser sessions currently attached to the push channel.",
		},
		func() float64 { return float64(count()) },
	))
}

// Setup wires the otel providers: prometheus for metrics, OTLP/HTTP for
// traces when OTEL_EXPORTER_OTLP_ENDPOINT is set, a no-export provider
// otherwise.
func Setup(serviceName string) (shutdown func(), promHandler http.Handler, tracer oteltrace.Tracer) {
	promExporter, err := otelprom.New()
	if err != nil {
		slog.Error("prometheus exporter init failed", "error", err)
		os.Exit(1)
	}
	meterProvider := otelmetric.NewMeterProvider(otelmetric.WithReader(promExporter))
	otel.SetMeterProvider(meterProvider)

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		slog.Error("otel resource init failed", "error", err)
		os.Exit(1)
	}

	var tp *trace.TracerProvider
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		exp, err := otlptracehttp.New(context.Background())
		if err != nil {
			slog.Error("otlp exporter init failed", "error", err)
			os.Exit(1)
		}
		tp = trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	} else {
		tp = trace.NewTracerProvider(trace.WithResource(res))
	}
	otel.SetTracerProvider(tp)

	shutdown = func() {
		_ = tp.Shutdown(context.Background())
	}
	return shutdown, promhttp.Handler(), otel.Tracer(serviceName)
}

// Middleware counts requests per endpoint and wraps each in a span.
func Middleware(tracer oteltrace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			RequestCounter.WithLabelValues(r.URL.Path, r.Method).Inc()

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
			span.SetAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
			)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(semconv.HTTPStatusCode(rw.status))
			span.End()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
