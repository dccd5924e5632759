package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	insecurecreds "google.golang.org/grpc/credentials/insecure"
)

// newExporter builds the OTLP exporter. The endpoint is normalized first —
// a scheme in OTEL_EXPORTER_OTLP_ENDPOINT decides transport security, an
// explicit OTEL_EXPORTER_OTLP_INSECURE=true overrides it — so the grpc and
// http branches only differ in option spelling.
func newExporter(ctx context.Context, cfg *Config) (*otlptrace.Exporter, error) {
	endpoint, insecure := normalizeEndpoint(cfg.Endpoint, cfg.Insecure)

	if isHTTPProtocol(cfg.Protocol) {
		var opts []otlptracehttp.Option
		if endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	var opts []otlptracegrpc.Option
	if endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
	}
	if insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecurecreds.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// normalizeEndpoint strips the URL scheme the OTLP clients do not want and
// folds it into the insecure decision.
func normalizeEndpoint(endpoint string, forceInsecure bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), true
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), forceInsecure
	default:
		return endpoint, forceInsecure
	}
}

func isHTTPProtocol(protocol string) bool {
	switch strings.ToLower(protocol) {
	case "http", "http/protobuf", "http/json":
		return true
	default:
		return false
	}
}
