// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ConfigureSlog builds the process logger and installs it as the slog
// default. Records emitted with a context carrying an active span are
// annotated with trace_id and span_id so log lines join up with traces.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var base slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(spanAnnotatingHandler{next: base})
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// spanAnnotatingHandler decorates records with the active span identifiers.
type spanAnnotatingHandler struct {
	next slog.Handler
}

func (h spanAnnotatingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h spanAnnotatingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h spanAnnotatingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanAnnotatingHandler{next: h.next.WithAttrs(attrs)}
}

func (h spanAnnotatingHandler) WithGroup(name string) slog.Handler {
	return spanAnnotatingHandler{next: h.next.WithGroup(name)}
}
