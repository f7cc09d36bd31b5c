package ledgersync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"homeledger/internal/infrastructure/xero"
	"homeledger/internal/shared/logger"
)

const DefaultRefreshBuffer = 5 * time.Minute

// TokenManager keeps a connection's access token usable, refreshing it
// ahead of expiry and persisting the rotated pair.
type TokenManager struct {
	conns    ConnectionRepository
	client   xero.ClientInterface
	notifier Notifier
	buffer   time.Duration
	now      func() time.Time
}

func NewTokenManager(conns ConnectionRepository, client xero.ClientInterface, notifier Notifier, buffer time.Duration) *TokenManager {
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &TokenManager{
		conns:    conns,
		client:   client,
		notifier: notifier,
		buffer:   buffer,
		now:      time.Now,
	}
}

// NeedsRefresh reports whether the token is within the buffer of expiry.
// Exactly at the boundary a refresh is due.
func (m *TokenManager) NeedsRefresh(conn *Connection) bool {
	return !conn.TokenExpiry.Add(-m.buffer).After(m.now())
}

// EnsureValidToken returns a usable access token for conn. On a refresh the
// new credentials are stored and conn is updated in place. Any failure to
// refresh marks the connection expired and returns ErrAuthenticationExpired.
func (m *TokenManager) EnsureValidToken(ctx context.Context, conn *Connection) (string, error) {
	token, _, err := m.ensureValidToken(ctx, conn)
	return token, err
}

// ensureValidToken is EnsureValidToken that also reports how many remote
// calls it issued: one when a refresh was attempted, otherwise zero.
func (m *TokenManager) ensureValidToken(ctx context.Context, conn *Connection) (string, int, error) {
	if !m.NeedsRefresh(conn) {
		return conn.AccessToken, 0, nil
	}

	if conn.RefreshToken == "" {
		m.expire(ctx, conn, "No refresh token stored, reconnect to continue")
		return "", 0, fmt.Errorf("connection %s: %w", conn.ID, ErrAuthenticationExpired)
	}

	tokens, err := m.client.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"error":         err,
		}).Warn("Token refresh rejected")
		m.expire(ctx, conn, fmt.Sprintf("Token refresh failed, reconnect to continue: %v", err))
		return "", 1, fmt.Errorf("connection %s: %w", conn.ID, ErrAuthenticationExpired)
	}

	if err := m.conns.UpdateTokens(ctx, conn.ID, *tokens); err != nil {
		return "", 1, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	conn.AccessToken = tokens.AccessToken
	conn.RefreshToken = tokens.RefreshToken
	conn.TokenExpiry = tokens.Expiry
	conn.Status = StatusActive
	conn.StatusMessage = ""

	logger.Log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"expires_at":    tokens.Expiry,
	}).Debug("Access token refreshed")

	return tokens.AccessToken, 1, nil
}

func (m *TokenManager) expire(ctx context.Context, conn *Connection, message string) {
	conn.Status = StatusExpired
	conn.StatusMessage = message

	if err := m.conns.MarkStatus(ctx, conn.ID, StatusExpired, message); err != nil {
		logger.LogError("Failed to mark connection expired", err)
	}
	m.notifier.ConnectionExpired(ctx, conn)
}
