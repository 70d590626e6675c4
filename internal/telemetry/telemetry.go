// Package telemetry configures OpenTelemetry metrics for the offline sync
// daemon.
//
// Nothing is exported unless telemetry.otlp_endpoint is set. With an empty
// endpoint every instrument is backed by the no-op provider.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/config"
)

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// exportInterval is how often metrics are pushed to the collector.
const exportInterval = 15 * time.Second

// IsEnabled reports whether cfg turns on metric export.
func IsEnabled(cfg config.Config) bool {
	return strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) != ""
}

// Init installs the global MeterProvider described by cfg and returns it.
func Init(ctx context.Context, cfg config.Config) (apimetric.MeterProvider, ShutdownFunc, error) {
	endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint)
	service := strings.TrimSpace(cfg.Telemetry.ServiceName)
	if service == "" {
		service = "offlinesyncd"
	}

	if endpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, nil, err
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	return mp, mp.Shutdown, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	return host, parsed.Scheme != "https", nil
}
