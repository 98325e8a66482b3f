package core

import "context"

type chatIDKey struct{}
type reasonKey struct{}

func WithChatID(ctx context.Context, chatID string) context.Context {
	if ctx == nil || chatID == "" {
		return ctx
	}
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

// WithReason tags the context with why a topic is being sent (schedule, silence, debug).
func WithReason(ctx context.Context, reason string) context.Context {
	if ctx == nil || reason == "" {
		return ctx
	}
	return context.WithValue(ctx, reasonKey{}, reason)
}

func ChatIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(chatIDKey{}).(string); ok {
		return v
	}
	return ""
}

func ReasonFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(reasonKey{}).(string); ok {
		return v
	}
	return ""
}
