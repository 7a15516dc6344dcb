package core

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}
type agentKey struct{}

// WithRequestID attaches a request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id if present.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// EnsureRequestID ensures a request id exists in the context.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id, ok := RequestID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// WithAgent records the name of the agent currently handling the payload.
func WithAgent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentKey{}, name)
}

// AgentFromContext returns the current agent name, if any.
func AgentFromContext(ctx context.Context) string {
	name, _ := ctx.Value(agentKey{}).(string)
	return name
}
