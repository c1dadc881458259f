package api

import (
	"context"
)

type key int

const (
	identityKey key = iota
	sessionKey
	authIDKey
)

// ContextSetIdentity binds the identity validated for the current request.
func ContextSetIdentity(ctx context.Context, id *GridIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// ContextGetIdentity returns the identity bound to the request.
func ContextGetIdentity(ctx context.Context) (*GridIdentity, bool) {
	id, ok := ctx.Value(identityKey).(*GridIdentity)
	return id, ok && id != nil
}

// ContextMustGetIdentity is like ContextGetIdentity but fails with
// NoActiveSessionErrorCode when nothing is bound.
func ContextMustGetIdentity(ctx context.Context) (*GridIdentity, error) {
	id, ok := ContextGetIdentity(ctx)
	if !ok {
		return nil, NewError(NoActiveSessionErrorCode).WithMessage("no identity bound to request")
	}
	return id, nil
}

// ContextSetAuthID binds the credential cache key of the request identity.
func ContextSetAuthID(ctx context.Context, authID string) context.Context {
	return context.WithValue(ctx, authIDKey, authID)
}

func ContextGetAuthID(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(authIDKey).(string)
	return a, ok
}

// ContextSetSession binds the open grid session of the request.
func ContextSetSession(ctx context.Context, s GridSession) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// ContextGetSession returns the grid session bound to the request or fails
// with NoActiveSessionErrorCode.
func ContextGetSession(ctx context.Context) (GridSession, error) {
	s, ok := ctx.Value(sessionKey).(GridSession)
	if !ok || s == nil {
		return nil, NewError(NoActiveSessionErrorCode).WithMessage("no grid session bound to request")
	}
	return s, nil
}
