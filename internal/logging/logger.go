// Package logging is the structured logger of the sync engine and the
// development server. Components receive a Logger at construction and tag
// their records with Module; background work (drains, probes, session
// upgrades) logs through the same Logger so a single stream shows the whole
// offline/online story of a device.
package logging

import "context"

// ModuleKey is the attribute naming the component that wrote a record.
const ModuleKey = "module"

// Logger is a context-aware, structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "drain finished", "applied", n, "pending", left)
type Logger interface {
	// Debug is for per-item chatter: probe results, skipped drains, queued writes.
	Debug(ctx context.Context, msg string, args ...any)
	// Info marks state changes a user would care about (online, signed in, drained).
	Info(ctx context.Context, msg string, args ...any)
	// Warn reports failures the engine absorbs, such as an undelivered mutation.
	Warn(ctx context.Context, msg string, args ...any)
	// Error reports failures that reach the caller or stop a background task.
	Error(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
}

// Module returns l scoped to the named component.
func Module(l Logger, name string) Logger {
	return l.With(ModuleKey, name)
}
