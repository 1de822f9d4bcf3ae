// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires structured logging and the OpenTelemetry SDK for
// the hubmate service.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes and releases telemetry resources.
type ShutdownFunc func(context.Context) error

// Config selects the exporter backend. Supported exporters: "stdout"
// (default), "otlp" (gRPC, requires OTLPEndpoint) and "none".
type Config struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type exporters struct {
	trace  sdktrace.SpanExporter
	metric sdkmetric.Exporter
}

// Init installs global tracer and meter providers for the service and
// returns the shutdown hook. With the "none" exporter nothing is installed
// and the hook is a no-op; chats and tests then run against the otel
// default no-op providers.
func Init(serviceName, version string, cfg Config) (ShutdownFunc, error) {
	if cfg.Exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := buildExporters(cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp.trace, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp.metric, sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var errs []error
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return fmt.Errorf("telemetry shutdown: %v", errs)
		}
		return nil
	}, nil
}

func buildExporters(cfg Config) (exporters, error) {
	switch cfg.Exporter {
	case "", "stdout":
		te, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return exporters{}, fmt.Errorf("stdout trace exporter: %w", err)
		}
		me, err := stdoutmetric.New()
		if err != nil {
			return exporters{}, fmt.Errorf("stdout metric exporter: %w", err)
		}
		return exporters{trace: te, metric: me}, nil

	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return exporters{}, fmt.Errorf("otlp exporter requires an endpoint")
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		te, err := otlptracegrpc.New(context.Background(), traceOpts...)
		if err != nil {
			return exporters{}, fmt.Errorf("otlp trace exporter: %w", err)
		}
		me, err := otlpmetricgrpc.New(context.Background(), metricOpts...)
		if err != nil {
			return exporters{}, fmt.Errorf("otlp metric exporter: %w", err)
		}
		return exporters{trace: te, metric: me}, nil

	default:
		return exporters{}, fmt.Errorf("unknown telemetry exporter: %s", cfg.Exporter)
	}
}
