// Package principal carries the identity an operation runs on behalf of.
package principal

import (
	"context"
	"errors"
)

// ErrMissing is returned when no principal is attached to a context.
var ErrMissing = errors.New("no active principal")

// Principal is the authenticated user an operation acts for. Every ledger
// operation receives one explicitly instead of relying on a global identity.
type Principal struct {
	UserID int64
	Email  string
}

// Valid reports whether p identifies a user.
func (p Principal) Valid() bool {
	return p.UserID > 0
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying p.
func WithContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext extracts the principal stored by WithContext.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok || !p.Valid() {
		return Principal{}, ErrMissing
	}
	return p, nil
}
