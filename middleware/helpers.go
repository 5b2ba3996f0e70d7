package middleware

import (
	"context"
	"errors"

	"github.com/mikeka317/wager-arbiter/models"
)

type contextKey string

const identityContextKey contextKey = "identity"

var ErrNoIdentity = errors.New("identity not found in context")

func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func GetIdentityFromContext(ctx context.Context) (models.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(models.Identity)
	if !ok || identity.UserID == "" {
		return models.Identity{}, ErrNoIdentity
	}
	return identity, nil
}
