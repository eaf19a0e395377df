package auth

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type userContextKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}

// UserID returns the authenticated user id or uuid.Nil.
func UserID(ctx context.Context) uuid.UUID {
	user, _ := UserFromContext(ctx)
	return user.ID
}

// LogExtractor adds the authenticated user id to log records.
func LogExtractor(ctx context.Context) (slog.Attr, bool) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.String("user_id", user.ID.String()), true
}
