// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the values; services read them without importing net/http:
//
//	requestID := requestcontext.RequestID(ctx)
//	actor := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests and the CLI inject them directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActorID(ctx, "cli")
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey   struct{}
	actorIDKey     struct{}
	requestTimeKey struct{}
)

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// ActorID retrieves the caller recorded on audit events: the admin
// principal for HTTP requests, the invoking user for the CLI.
func ActorID(ctx context.Context) string {
	if actor, ok := ctx.Value(actorIDKey{}).(string); ok {
		return actor
	}
	return ""
}

// WithActorID injects the acting principal into the context.
func WithActorID(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actor)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
