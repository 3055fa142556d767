package auth

import "context"

type contextKey string

const contextKeyActor contextKey = "auth.actor"

// WithActor stores the authenticated operator in context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, contextKeyActor, actor)
}

// ActorFromContext extracts the operator, or nil when unauthenticated.
func ActorFromContext(ctx context.Context) *string {
	if ctx == nil {
		return nil
	}
	if actor, ok := ctx.Value(contextKeyActor).(string); ok && actor != "" {
		return &actor
	}
	return nil
}
