// Package logging defines a minimal logging contract used across the
// application, so that components do not depend on a concrete logging
// backend.
package logging

import "context"

// Logger is an abstraction over a structured logger.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}
