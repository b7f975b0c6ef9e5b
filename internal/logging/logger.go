// Package logging is the structured logger every relay and client component
// takes. Components depend on the Logger interface; the only
// implementation is the slog adapter in this package.
package logging

import "context"

// Logger takes a message and alternating keys and values:
//
//	log.Warn(ctx, "fan-out failed", "to", name, "error", err)
//
// The context is passed to the handler, so request-scoped attributes can be
// picked up there.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child that adds args to every record, e.g. the remote
	// address of a connection and, after login, its user.
	With(args ...any) Logger
}
