// Package telemetry traces collection cycles through OpenTelemetry.
//
// The engine emits exactly one span per collection cycle, carrying the
// candidate/freed/survivor counts and the bytes scanned by the snapshot
// child. Configuration comes from the standard environment variables:
//
//	OTEL_ENABLED                    - Enable/disable tracing (default: false)
//	OTEL_SERVICE_NAME               - Service name (default: forkscan)
//	OTEL_SERVICE_VERSION            - Service version (default: unknown)
//	OTEL_EXPORTER_OTLP_ENDPOINT     - OTLP collector endpoint
//	OTEL_EXPORTER_OTLP_PROTOCOL     - grpc or http/protobuf (default: grpc)
//	OTEL_EXPORTER_OTLP_HEADERS      - Headers for authentication
//	OTEL_EXPORTER_OTLP_INSECURE     - Use insecure connection (default: false)
//	OTEL_TRACES_SAMPLER             - always_on, always_off or traceidratio
//	OTEL_TRACES_SAMPLER_ARG         - Ratio for traceidratio
package telemetry

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forkscan/collector"

// Config holds the telemetry settings loaded from the environment. The
// engine needs one sampling decision per cycle, so the teacher-of-all-trades
// sampler taxonomy collapses to a single ratio: 1 traces every cycle, 0
// none, anything between is a head-sampled fraction.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Protocol       string
	Headers        map[string]string
	Insecure       bool
	SampleRatio    float64
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// loadConfig loads the configuration once from the environment.
func loadConfig() *Config {
	configOnce.Do(func() {
		globalConfig = &Config{
			Enabled:        strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true"),
			ServiceName:    envOr("OTEL_SERVICE_NAME", "forkscan"),
			ServiceVersion: envOr("OTEL_SERVICE_VERSION", "unknown"),
			Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Protocol:       envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			Headers:        parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Insecure:       strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), "true"),
			SampleRatio: sampleRatio(
				os.Getenv("OTEL_TRACES_SAMPLER"),
				os.Getenv("OTEL_TRACES_SAMPLER_ARG"),
			),
		}
	})
	return globalConfig
}

// ShutdownFunc is a function that shuts down the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

// noopShutdown is a no-op shutdown function.
func noopShutdown(_ context.Context) error {
	return nil
}

// Init initializes OpenTelemetry and sets up the global TracerProvider.
// If OTEL_ENABLED is not "true", it returns a no-op shutdown function and
// cycle spans stay no-ops.
func Init(ctx context.Context) (ShutdownFunc, error) {
	cfg := loadConfig()

	if !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return noopShutdown, err
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}, nil
}

// Enabled returns whether OpenTelemetry tracing is enabled.
func Enabled() bool {
	return loadConfig().Enabled
}

// StartCycle opens the span for one collection cycle.
func StartCycle(ctx context.Context, cycle int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gc.cycle",
		trace.WithAttributes(attribute.Int64("gc.cycle", cycle)))
}

// RecordCycle attaches a cycle's outcome to its span.
func RecordCycle(span trace.Span, candidates, freed, survivors, passes int, bytesScanned uint64) {
	span.SetAttributes(
		attribute.Int("gc.candidates", candidates),
		attribute.Int("gc.freed", freed),
		attribute.Int("gc.survivors", survivors),
		attribute.Int("gc.sweep_passes", passes),
		attribute.Int64("gc.bytes_scanned", int64(bytesScanned)),
	)
}

// sampleRatio collapses the OTEL sampler envs to one fraction.
func sampleRatio(name, arg string) float64 {
	switch name {
	case "", "always_on", "parentbased_always_on":
		return 1
	case "always_off", "parentbased_always_off":
		return 0
	case "traceidratio", "parentbased_traceidratio":
		r, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 1
		}
		return min(max(r, 0), 1)
	default:
		return 1
	}
}

// sampler maps the ratio onto an SDK sampler.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// envOr returns the environment variable value or a default.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseHeaders parses "k1=v1,k2=v2" into a map; values may contain '='.
func parseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}
