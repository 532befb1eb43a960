// Package logging provides the structured logging interface shared by every
// core component (orchestrator, allocator, strategy engine, transport).
//
// Components never write to stdout directly; they hold a Logger and emit
// leveled, structured records through it. A no-op logger is always safe to
// pass in (tests use it); production wiring swaps in StdLogger, whose
// *WithContext methods add the active span's trace and span ids.
package logging

import "context"

// Logger is the structured logging contract used throughout the runtime.
// Fields carry structured context (task_id, session_id, agent_id, ...)
// instead of being interpolated into the message string.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag every line it emits with a
// component name (e.g. "orchestrator", "transport", "allocator") without
// each call site repeating it.
type ComponentAwareLogger interface {
	Logger
	WithComponent(name string) Logger
}

// Noop discards everything. Default for components constructed without an
// explicit logger (e.g. unit tests building an Allocator in isolation).
type Noop struct{}

func (Noop) Info(string, map[string]interface{})                                    {}
func (Noop) Warn(string, map[string]interface{})                                    {}
func (Noop) Error(string, map[string]interface{})                                   {}
func (Noop) Debug(string, map[string]interface{})                                   {}
func (Noop) InfoWithContext(context.Context, string, map[string]interface{})        {}
func (Noop) WarnWithContext(context.Context, string, map[string]interface{})        {}
func (Noop) ErrorWithContext(context.Context, string, map[string]interface{})       {}
func (Noop) DebugWithContext(context.Context, string, map[string]interface{})       {}
func (Noop) WithComponent(string) Logger                                            { return Noop{} }
