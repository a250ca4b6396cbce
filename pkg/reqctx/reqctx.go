// Package reqctx carries request-scoped values — destination name,
// resolved connection tuple, and session/request identifiers — through
// context.Context so they propagate into child goroutines spawned while
// serving one data_agent call, per spec.md §5's transport-level
// middleware description. Grounded on the teacher's use of typed
// unexported context keys rather than ambient globals.
package reqctx

import (
	"context"

	"github.com/dataworks-io/sqlgate/pkg/models"
)

type ctxKey int

const (
	keyDestinationName ctxKey = iota
	keyResolvedConn
	keySessionID
	keyRequestID
)

// WithDestinationName returns a context carrying the symbolic destination
// name parsed from the "?db=" query parameter.
func WithDestinationName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyDestinationName, name)
}

// DestinationName returns the destination name set by middleware, if any.
func DestinationName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyDestinationName).(string)
	return v, ok
}

// WithResolvedConn returns a context carrying the connection tuple already
// resolved through the mapping store.
func WithResolvedConn(ctx context.Context, conn models.ResolvedConn) context.Context {
	return context.WithValue(ctx, keyResolvedConn, conn)
}

// ResolvedConn returns the connection tuple set by middleware, if any.
func ResolvedConn(ctx context.Context) (models.ResolvedConn, bool) {
	v, ok := ctx.Value(keyResolvedConn).(models.ResolvedConn)
	return v, ok
}

// WithSessionID returns a context carrying the analytics session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keySessionID, id)
}

// SessionID returns the session id set by middleware, if any.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok
}

// WithRequestID returns a context carrying the per-invocation request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the request id set by the dispatcher, if any.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok
}
