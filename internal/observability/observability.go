// Package observability configures process-wide logging and trace propagation.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Exporter names the OpenTelemetry log exporter.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp_http"
	ExporterOTLPGRPC Exporter = "otlp_grpc"
)

// instrumentationName identifies log records emitted through the OpenTelemetry bridge.
const instrumentationName = "github.com/florianilch/tokenshell"

// Option configures Instrument.
type Option func(*options)

type options struct {
	output   io.Writer
	exporter Exporter
	endpoint string
}

// WithOutput sets the writer for local log output. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// WithExporter enables OpenTelemetry log export. endpoint is a full URL for the
// OTLP exporters and ignored otherwise; empty uses the exporter's environment defaults.
func WithExporter(exporter Exporter, endpoint string) Option {
	return func(o *options) {
		o.exporter = exporter
		o.endpoint = endpoint
	}
}

// ShutdownFunc flushes and stops telemetry pipelines.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger and the global text map propagator.
// format is "text" or "json". The returned ShutdownFunc must be called before exit
// to flush exported records.
func Instrument(level slog.Level, format string, opts ...Option) (ShutdownFunc, error) {
	o := &options{output: os.Stderr, exporter: ExporterNone}
	for _, opt := range opts {
		opt(o)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var local slog.Handler
	switch format {
	case "", "text":
		local = slog.NewTextHandler(o.output, handlerOpts)
	case "json":
		local = slog.NewJSONHandler(o.output, handlerOpts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	handler := slog.Handler(&traceHandler{Handler: local})
	shutdown := ShutdownFunc(func(context.Context) error { return nil })

	if o.exporter != ExporterNone && o.exporter != "" {
		provider, err := newLoggerProvider(o.exporter, o.endpoint, level)
		if err != nil {
			return nil, fmt.Errorf("failed to set up log export: %w", err)
		}
		global.SetLoggerProvider(provider)

		bridge := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
		handler = &fanoutHandler{handlers: []slog.Handler{handler, bridge}}
		shutdown = provider.Shutdown
	}

	slog.SetDefault(slog.New(handler))
	return shutdown, nil
}

func newLoggerProvider(exporter Exporter, endpoint string, level slog.Level) (*sdklog.LoggerProvider, error) {
	ctx := context.Background()

	var (
		exp sdklog.Exporter
		err error
	)
	switch exporter {
	case ExporterStdout:
		exp, err = stdoutlog.New()
	case ExporterOTLPHTTP:
		var httpOpts []otlploghttp.Option
		if endpoint != "" {
			httpOpts = append(httpOpts, otlploghttp.WithEndpointURL(endpoint))
		}
		exp, err = otlploghttp.New(ctx, httpOpts...)
	case ExporterOTLPGRPC:
		var grpcOpts []otlploggrpc.Option
		if endpoint != "" {
			grpcOpts = append(grpcOpts, otlploggrpc.WithEndpointURL(endpoint))
		}
		exp, err = otlploggrpc.New(ctx, grpcOpts...)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", exporter)
	}
	if err != nil {
		return nil, err
	}

	var processor sdklog.Processor
	if exporter == ExporterStdout {
		processor = sdklog.NewSimpleProcessor(exp)
	} else {
		processor = sdklog.NewBatchProcessor(exp)
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	), nil
}

// severity maps a slog level onto the nearest OpenTelemetry minimum severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanoutHandler dispatches records to every handler that accepts the level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}
