package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"homeledger/internal/infrastructure/xero"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/principal"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
	tenantTypeOrg   = "ORGANISATION"
)

// ConnectionService manages the lifecycle of connections: authorization,
// account discovery, schedule and removal.
type ConnectionService struct {
	conns            ConnectionRepository
	mappings         MappingRepository
	logs             SyncLogRepository
	client           xero.ClientInterface
	tokens           *TokenManager
	states           *StateCache
	defaultFrequency SyncFrequency
	now              func() time.Time
}

func NewConnectionService(
	conns ConnectionRepository,
	mappings MappingRepository,
	logs SyncLogRepository,
	client xero.ClientInterface,
	tokens *TokenManager,
	states *StateCache,
	defaultFrequency SyncFrequency,
) *ConnectionService {
	if defaultFrequency == "" {
		defaultFrequency = FrequencyDaily
	}
	return &ConnectionService{
		conns:            conns,
		mappings:         mappings,
		logs:             logs,
		client:           client,
		tokens:           tokens,
		states:           states,
		defaultFrequency: defaultFrequency,
		now:              time.Now,
	}
}

// StartAuthorization returns the consent URL for p and the state that the
// callback must present.
func (s *ConnectionService) StartAuthorization(p principal.Principal) (authURL, state string, err error) {
	if !p.Valid() {
		return "", "", principal.ErrMissing
	}
	state = s.states.Issue(p)
	return s.client.AuthorizeURL(state), state, nil
}

// CompleteAuthorization redeems the state, exchanges the code, stores the
// connection and discovers its accounts. Discovery failures are logged and
// do not fail the authorization.
func (s *ConnectionService) CompleteAuthorization(ctx context.Context, state, code string) (*Connection, principal.Principal, error) {
	p, ok := s.states.Redeem(state)
	if !ok {
		return nil, principal.Principal{}, ErrInvalidState
	}
	if strings.TrimSpace(code) == "" {
		return nil, p, errors.New("authorization code is required")
	}

	tokens, err := s.client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, p, err
	}

	tenants, err := s.client.Tenants(ctx, tokens.AccessToken)
	if err != nil {
		return nil, p, fmt.Errorf("failed to list organisations: %w", err)
	}
	tenant, ok := pickTenant(tenants)
	if !ok {
		return nil, p, ErrNoTenant
	}

	conn, err := s.conns.Save(ctx, SaveConnectionParams{
		UserID:        p.UserID,
		TenantID:      tenant.TenantID,
		TenantName:    tenant.TenantName,
		Tokens:        *tokens,
		SyncFrequency: s.defaultFrequency,
		NextSyncAt:    s.defaultFrequency.NextSync(s.now()),
	})
	if err != nil {
		return nil, p, fmt.Errorf("failed to save connection: %w", err)
	}

	if _, err := s.discover(ctx, conn, tokens.AccessToken); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"error":         err,
		}).Warn("Account discovery after authorization failed")
	}

	logger.Log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       p.UserID,
		"tenant":        conn.TenantName,
	}).Info("Ledger connected")

	return conn, p, nil
}

// pickTenant prefers an organisation over other tenant kinds.
func pickTenant(tenants []xero.Tenant) (xero.Tenant, bool) {
	for _, t := range tenants {
		if strings.EqualFold(t.TenantType, tenantTypeOrg) {
			return t, true
		}
	}
	if len(tenants) > 0 {
		return tenants[0], true
	}
	return xero.Tenant{}, false
}

func (s *ConnectionService) ListConnections(ctx context.Context, p principal.Principal) ([]*Connection, error) {
	if !p.Valid() {
		return nil, principal.ErrMissing
	}
	return s.conns.ListByUserID(ctx, p.UserID)
}

// Disconnect deletes the connection with its mappings and logs. Imported
// local data is kept.
func (s *ConnectionService) Disconnect(ctx context.Context, p principal.Principal, connectionID string) error {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return err
	}
	return s.conns.Delete(ctx, conn.ID)
}

// DiscoverAccounts records every remote bank account in the mapping store.
func (s *ConnectionService) DiscoverAccounts(ctx context.Context, p principal.Principal, connectionID string) ([]*AccountMapping, error) {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return nil, err
	}
	return s.discover(ctx, conn, token)
}

func (s *ConnectionService) discover(ctx context.Context, conn *Connection, token string) ([]*AccountMapping, error) {
	remotes, err := s.client.GetAccounts(ctx, token, conn.TenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote accounts: %w", err)
	}

	mappings := make([]*AccountMapping, 0, len(remotes))
	for _, remote := range remotes {
		m, err := s.mappings.UpsertDiscovered(ctx, conn.ID, remoteParams(remote))
		if err != nil {
			return mappings, fmt.Errorf("failed to record account %s: %w", remote.Name, err)
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// Statement fetches the bank statement of one remote account.
func (s *ConnectionService) Statement(ctx context.Context, p principal.Principal, connectionID, remoteAccountID string, from, to time.Time) ([]xero.StatementLine, error) {
	if from.After(to) {
		return nil, ErrInvalidDateRange
	}
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return nil, err
	}
	return s.client.GetBankStatement(ctx, token, conn.TenantID, remoteAccountID, from, to)
}

// SetSyncFrequency changes the schedule and recomputes the next run from now.
func (s *ConnectionService) SetSyncFrequency(ctx context.Context, p principal.Principal, connectionID, frequency string) (*Connection, error) {
	freq, err := ParseSyncFrequency(frequency)
	if err != nil {
		return nil, err
	}
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return nil, err
	}

	next := freq.NextSync(s.now())
	if err := s.conns.UpdateSyncFrequency(ctx, conn.ID, freq, next); err != nil {
		return nil, err
	}
	conn.SyncFrequency = freq
	conn.NextSyncAt = next
	return conn, nil
}

// ListSyncLogs returns the most recent runs, newest first.
func (s *ConnectionService) ListSyncLogs(ctx context.Context, p principal.Principal, connectionID string, limit int) ([]*SyncLog, error) {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)
	return s.logs.ListByConnection(ctx, conn.ID, limit)
}
