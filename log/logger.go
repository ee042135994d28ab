package log

import "context"

// Logger defines a standard interface for logging.
// Inspired by common logging library patterns.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]any)
	Info(ctx context.Context, msg string, fields ...map[string]any)
	Warn(ctx context.Context, msg string, fields ...map[string]any)
	Error(ctx context.Context, msg string, err error, fields ...map[string]any)
	With(fields map[string]any) Logger // Returns a new logger with added structured fields
}

// nopLogger discards everything. Used as the default in components whose
// caller did not supply a logger, and in tests.
type nopLogger struct{}

// NewNop returns a Logger that drops all output.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(context.Context, string, ...map[string]any)        {}
func (nopLogger) Info(context.Context, string, ...map[string]any)         {}
func (nopLogger) Warn(context.Context, string, ...map[string]any)         {}
func (nopLogger) Error(context.Context, string, error, ...map[string]any) {}
func (nopLogger) With(map[string]any) Logger                              { return nopLogger{} }
