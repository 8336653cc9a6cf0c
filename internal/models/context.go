package models

import (
	"context"
)

type actorContextKey struct{}

// Actor identifies who triggered an operation so ledger postings and audit
// logs can carry it without widening every service signature.
type Actor struct {
	UserId    string // authenticated caller
	Role      string // USER, ADMIN or SERVICE
	RequestId string // correlation id from the transport layer
}

const (
	RoleUser    = "USER"
	RoleAdmin   = "ADMIN"
	RoleService = "SERVICE"
)

// WithActor attaches the caller identity to a context.
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

// GetActor retrieves the caller identity from context, or nil if absent.
func GetActor(ctx context.Context) *Actor {
	a, _ := ctx.Value(actorContextKey{}).(*Actor)
	return a
}
