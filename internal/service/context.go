package service

import "context"

type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	identityKey contextKey = "identity"
)

// Identity is the verified caller context extracted from an identity token.
// It only pre-fills evaluation input; explicit request fields take priority.
type Identity struct {
	UserID string
	Groups []string
}

// WithTraceID attaches the request trace id for downstream writes.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFrom returns the trace id or "" when the context carries none.
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithIdentity injects the verified identity into the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the verified identity, nil when absent.
func IdentityFrom(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}
