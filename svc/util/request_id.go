package util

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// NewRequestID mints the correlation id attached to every request; the
// same id shows up in log lines, error responses, and the X-Request-ID
// header.
func NewRequestID() string {
	return uuid.New().String()
}

func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the id stored on the context, minting a fresh
// one when the context never went through the middleware (background
// jobs, tests).
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}
