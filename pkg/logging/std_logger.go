package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Level is the minimum severity a StdLogger will emit.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func levelFromEnv(v string) Level {
	switch strings.ToUpper(v) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger is the in-repo Logger implementation. It prints text lines for
// local development and JSON records when running under Kubernetes
// (detected via KUBERNETES_SERVICE_HOST, same signal the teacher uses),
// and stamps every *WithContext call with the active span's trace/span id
// so log lines and traces correlate in the same backend.
type StdLogger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	format    string // "text" | "json"
	component string
	fields    map[string]interface{}
}

// NewStdLogger builds a logger from the process environment:
// ORCH_LOG_LEVEL (default info) and ORCH_LOG_FORMAT (default text, or json
// under Kubernetes).
func NewStdLogger() *StdLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if f := os.Getenv("ORCH_LOG_FORMAT"); f != "" {
		format = f
	}
	return &StdLogger{
		out:    os.Stdout,
		level:  levelFromEnv(os.Getenv("ORCH_LOG_LEVEL")),
		format: format,
	}
}

// WithComponent returns a logger that tags every record with component.
func (l *StdLogger) WithComponent(name string) Logger {
	return &StdLogger{out: l.out, level: l.level, format: l.format, component: name, fields: l.fields}
}

func (l *StdLogger) Info(msg string, fields map[string]interface{})  { l.emit(LevelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]interface{})  { l.emit(LevelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]interface{}) { l.emit(LevelError, msg, fields) }
func (l *StdLogger) Debug(msg string, fields map[string]interface{}) { l.emit(LevelDebug, msg, fields) }

func (l *StdLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.emit(LevelInfo, msg, withTraceFields(ctx, fields))
}
func (l *StdLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.emit(LevelWarn, msg, withTraceFields(ctx, fields))
}
func (l *StdLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.emit(LevelError, msg, withTraceFields(ctx, fields))
}
func (l *StdLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.emit(LevelDebug, msg, withTraceFields(ctx, fields))
}

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["trace_id"] = sc.TraceID().String()
	out["span_id"] = sc.SpanID().String()
	return out
}

func (l *StdLogger) emit(lvl Level, msg string, fields map[string]interface{}) {
	if lvl < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]interface{}, len(l.fields)+len(fields)+1)
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if l.component != "" {
		merged["component"] = l.component
	}

	if l.format == "json" {
		rec := map[string]interface{}{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": levelName(lvl),
			"msg":   msg,
		}
		for k, v := range merged {
			rec[k] = v
		}
		enc, err := json.Marshal(rec)
		if err != nil {
			fmt.Fprintf(l.out, "{\"level\":\"error\",\"msg\":\"log marshal failed: %v\"}\n", err)
			return
		}
		fmt.Fprintln(l.out, string(enc))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", time.Now().UTC().Format(time.RFC3339), levelName(lvl), msg)
	for k, v := range merged {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(l.out, b.String())
}

func levelName(l Level) string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}
