package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// CoreInstruments holds the handful of counters every subsystem shares.
type CoreInstruments struct {
	RetryAttempts   metric.Int64Counter
	RecoveryResets  metric.Int64Counter
	TrustResolves   metric.Int64Counter
	PackageIngests  metric.Int64Counter
}

// InitMetrics sets up a global OTLP metrics exporter (push). Returns a shutdown func.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, instruments CoreInstruments) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, createCoreInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, createCoreInstruments()
}

func createCoreInstruments() CoreInstruments {
	meter := otel.Meter("fluxion")
	retry, _ := meter.Int64Counter("fluxion_retry_attempts_total")
	recovery, _ := meter.Int64Counter("fluxion_recovery_resets_total")
	trust, _ := meter.Int64Counter("fluxion_trust_resolutions_total")
	pkg, _ := meter.Int64Counter("fluxion_package_ingests_total")
	return CoreInstruments{
		RetryAttempts:  retry,
		RecoveryResets: recovery,
		TrustResolves:  trust,
		PackageIngests: pkg,
	}
}
