package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

var (
	Logger          *slog.Logger
	errorSampleRate int32 = 1 // log every warning/error unless ERROR_SAMPLE_RATE says otherwise
	programLevel          = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error
)

// Counters are incremented regardless of sampling.
var (
	TotalErrors         atomic.Int64
	TotalWarnings       atomic.Int64
	RuleFaults          atomic.Int64
	DependencyCycles    atomic.Int64
	TransitionConflicts atomic.Int64
	StateViolations     atomic.Int64
)

func init() {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "INFO"
	}

	level, err := ParseLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}
	programLevel.Set(level)

	if sampleStr := os.Getenv("ERROR_SAMPLE_RATE"); sampleStr != "" {
		if rate, err := strconv.Atoi(sampleStr); err == nil && rate > 0 {
			atomic.StoreInt32(&errorSampleRate, int32(rate))
		}
	}

	if strings.ToLower(os.Getenv("OTEL_ENABLED")) == "true" {
		serviceName := os.Getenv("OTEL_SERVICE_NAME")
		if serviceName == "" {
			serviceName = "prepbook"
		}

		shutdown, err := setupOTELLogging(context.Background(), serviceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
			SetOutput(os.Stdout)
			return
		}
		shutdownFunc = shutdown
		return
	}

	SetOutput(os.Stdout)
}

// SetOutput replaces the JSON handler's destination. Tests use it to capture
// or silence log output.
func SetOutput(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)

	Logger = slog.New(&levelHandler{level: programLevel, handler: otelHandler})
	slog.SetDefault(Logger)

	return loggerProvider.Shutdown, nil
}

// levelHandler wraps a handler to filter by level
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter when it is in use.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel sets the minimum log level for the logger
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// SetSampleRate logs one out of every rate warnings/errors. A rate of 1 or
// less logs everything.
func SetSampleRate(rate int) {
	atomic.StoreInt32(&errorSampleRate, int32(rate))
}

// ParseLevel converts a string level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

func shouldSample() bool {
	rate := atomic.LoadInt32(&errorSampleRate)
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Debug logs a debug-level message
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a sampled warning. TotalWarnings is always incremented.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs a sampled error. TotalErrors is always incremented.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// WarnCycle records a dependency cycle found while ordering rules.
func WarnCycle(entity string, path []string) {
	DependencyCycles.Add(1)
	Warn("rule dependency cycle detected", "entity", entity, "cycle", strings.Join(path, " -> "))
}

// ErrorRuleFault records a rule whose evaluation panicked.
func ErrorRuleFault(ruleID string, recovered any) {
	RuleFaults.Add(1)
	Error("rule evaluation panicked", "rule_id", ruleID, "panic", fmt.Sprint(recovered))
}

// WarnConflict records a lost compare-and-swap on an entity status.
func WarnConflict(kind, id string, attempt int) {
	TransitionConflicts.Add(1)
	Warn("entity status changed concurrently", "kind", kind, "id", id, "attempt", attempt)
}

// WarnStateViolation records a rejected transition request.
func WarnStateViolation(kind, id, state, transition string) {
	StateViolations.Add(1)
	Warn("transition rejected", "kind", kind, "id", id, "state", state, "transition", transition)
}
