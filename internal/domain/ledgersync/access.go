package ledgersync

import (
	"context"

	"homeledger/internal/shared/principal"
)

// ownedConnection loads a connection and checks it belongs to p.
func ownedConnection(ctx context.Context, conns ConnectionRepository, p principal.Principal, connectionID string) (*Connection, error) {
	if !p.Valid() {
		return nil, principal.ErrMissing
	}

	conn, err := conns.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.UserID != p.UserID {
		return nil, ErrForbidden
	}
	return conn, nil
}
