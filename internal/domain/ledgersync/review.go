package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"homeledger/internal/domain/account"
	"homeledger/internal/infrastructure/xero"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/principal"
)

// ReviewService compares remote accounts with local ones and imports the
// remote accounts nobody claimed.
type ReviewService struct {
	conns    ConnectionRepository
	mappings MappingRepository
	accounts LocalAccounts
	client   xero.ClientInterface
	tokens   *TokenManager
	matcher  *Matcher
}

func NewReviewService(
	conns ConnectionRepository,
	mappings MappingRepository,
	accounts LocalAccounts,
	client xero.ClientInterface,
	tokens *TokenManager,
	matcher *Matcher,
) *ReviewService {
	return &ReviewService{
		conns:    conns,
		mappings: mappings,
		accounts: accounts,
		client:   client,
		tokens:   tokens,
		matcher:  matcher,
	}
}

// Review classifies every remote bank account as matched, suggested or
// unmatched, in that order; suggestions by descending confidence.
func (s *ReviewService) Review(ctx context.Context, p principal.Principal, connectionID string) ([]AccountComparison, error) {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return nil, err
	}
	remotes, err := s.remoteAccounts(ctx, conn)
	if err != nil {
		return nil, err
	}
	return s.compare(ctx, p, conn, remotes)
}

func (s *ReviewService) compare(ctx context.Context, p principal.Principal, conn *Connection, remotes []xero.Account) ([]AccountComparison, error) {
	mappings, err := s.mappings.ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account mappings: %w", err)
	}
	byRemote := make(map[string]*AccountMapping, len(mappings))
	for _, m := range mappings {
		byRemote[m.RemoteAccountID] = m
	}

	locals, err := s.accounts.ListAccountsByUserID(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local accounts: %w", err)
	}
	byID := make(map[string]*account.Account, len(locals))
	for _, a := range locals {
		byID[a.ID] = a
	}

	comparisons := make([]AccountComparison, 0, len(remotes))
	for _, remote := range remotes {
		c := AccountComparison{Remote: remote, Mapping: byRemote[remote.AccountID]}

		if c.Mapping != nil && c.Mapping.Linked() {
			c.Status = ComparisonMatched
			c.Local = byID[*c.Mapping.LocalAccountID]
			c.Confidence = 100
			c.Reason = reasonManualLink
			comparisons = append(comparisons, c)
			continue
		}

		local, result := s.matcher.BestMatch(remote, locals)
		c.Confidence = result.Confidence
		c.Reason = result.Reason
		if local != nil && s.matcher.Actionable(result) {
			c.Status = ComparisonSuggested
			c.Local = local
		} else {
			c.Status = ComparisonUnmatched
		}
		comparisons = append(comparisons, c)
	}

	sortComparisons(comparisons)
	return comparisons, nil
}

func sortComparisons(cs []AccountComparison) {
	rank := map[ComparisonStatus]int{
		ComparisonMatched:   0,
		ComparisonSuggested: 1,
		ComparisonUnmatched: 2,
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if rank[cs[i].Status] != rank[cs[j].Status] {
			return rank[cs[i].Status] < rank[cs[j].Status]
		}
		if cs[i].Status == ComparisonSuggested {
			return cs[i].Confidence > cs[j].Confidence
		}
		return false
	})
}

// ImportAccount creates a local account for one remote account and links
// the two with sync enabled.
func (s *ReviewService) ImportAccount(ctx context.Context, p principal.Principal, connectionID, remoteAccountID string) (*ImportResult, error) {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return failedImport(err), err
	}
	remotes, err := s.remoteAccounts(ctx, conn)
	if err != nil {
		return failedImport(err), err
	}

	remote, ok := findRemote(remotes, remoteAccountID)
	if !ok {
		return failedImport(ErrRemoteAccountNotFound), ErrRemoteAccountNotFound
	}

	acc, err := s.importRemote(ctx, p, conn, remote)
	if err != nil {
		err = fmt.Errorf("%s: %w", remote.Name, err)
		return failedImport(err), err
	}

	return &ImportResult{
		Success:       true,
		ImportedCount: 1,
		Accounts:      []*account.Account{acc},
		Errors:        []string{},
		Message:       fmt.Sprintf("Imported %s", acc.Name),
	}, nil
}

// ImportAllUnmatched imports every unmatched remote account. Each import is
// independent; failures are collected and the rest continue.
func (s *ReviewService) ImportAllUnmatched(ctx context.Context, p principal.Principal, connectionID string) (*ImportResult, error) {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return failedImport(err), err
	}
	remotes, err := s.remoteAccounts(ctx, conn)
	if err != nil {
		return failedImport(err), err
	}
	comparisons, err := s.compare(ctx, p, conn, remotes)
	if err != nil {
		return failedImport(err), err
	}

	result := &ImportResult{Accounts: []*account.Account{}, Errors: []string{}}
	candidates := 0
	for _, c := range comparisons {
		if c.Status != ComparisonUnmatched {
			continue
		}
		candidates++

		acc, err := s.importRemote(ctx, p, conn, c.Remote)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.Remote.Name, err))
			logger.Log.WithFields(logrus.Fields{
				"connection_id":     conn.ID,
				"remote_account_id": c.Remote.AccountID,
				"error":             err,
			}).Warn("Account import failed")
			continue
		}
		result.ImportedCount++
		result.Accounts = append(result.Accounts, acc)
	}

	if candidates == 0 {
		result.Success = true
		result.Message = "No unmatched accounts to import"
		return result, nil
	}

	result.Success = result.ImportedCount > 0
	result.Message = fmt.Sprintf("Imported %d of %d accounts", result.ImportedCount, candidates)
	if len(result.Errors) > 0 {
		result.Message += ": " + strings.Join(result.Errors, "; ")
	}
	return result, nil
}

// LinkAccount points a remote account at an existing local account.
func (s *ReviewService) LinkAccount(ctx context.Context, p principal.Principal, connectionID, remoteAccountID, localAccountID string, syncEnabled bool) (*AccountMapping, error) {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return nil, err
	}

	local, err := s.accounts.GetAccount(ctx, localAccountID, p.UserID)
	if err != nil {
		return nil, err
	}

	var remote RemoteAccountParams
	existing, err := s.mappings.GetByRemoteID(ctx, conn.ID, remoteAccountID)
	switch {
	case err == nil:
		remote = RemoteAccountParams{
			RemoteAccountID: existing.RemoteAccountID,
			RemoteName:      existing.RemoteName,
			RemoteCode:      existing.RemoteCode,
			RemoteType:      existing.RemoteType,
		}
	case errors.Is(err, ErrMappingNotFound):
		remotes, err := s.remoteAccounts(ctx, conn)
		if err != nil {
			return nil, err
		}
		a, ok := findRemote(remotes, remoteAccountID)
		if !ok {
			return nil, ErrRemoteAccountNotFound
		}
		remote = remoteParams(a)
	default:
		return nil, err
	}

	return s.mappings.UpsertLink(ctx, conn.ID, remote, local.ID, syncEnabled)
}

// UnlinkAccount detaches the local account and disables sync for it.
func (s *ReviewService) UnlinkAccount(ctx context.Context, p principal.Principal, connectionID, remoteAccountID string) error {
	conn, err := ownedConnection(ctx, s.conns, p, connectionID)
	if err != nil {
		return err
	}
	return s.mappings.Unlink(ctx, conn.ID, remoteAccountID)
}

func (s *ReviewService) importRemote(ctx context.Context, p principal.Principal, conn *Connection, remote xero.Account) (*account.Account, error) {
	acc, err := s.accounts.CreateAccount(ctx, account.CreateParams{
		UserID:         p.UserID,
		Name:           remote.Name,
		AccountNumber:  remote.BankAccountNumber,
		AccountType:    LocalAccountType(remote.Kind()),
		Currency:       remote.CurrencyCode,
		ExternalSource: ExternalSource,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.mappings.UpsertLink(ctx, conn.ID, remoteParams(remote), acc.ID, true); err != nil {
		return nil, fmt.Errorf("account created but mapping failed: %w", err)
	}
	return acc, nil
}

func (s *ReviewService) remoteAccounts(ctx context.Context, conn *Connection) ([]xero.Account, error) {
	token, err := s.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return nil, err
	}
	remotes, err := s.client.GetAccounts(ctx, token, conn.TenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote accounts: %w", err)
	}
	return remotes, nil
}

// LocalAccountType maps a remote account kind to the local type used on
// import: credit-card-like kinds become credit, everything else bank.
func LocalAccountType(kind string) string {
	if strings.Contains(strings.ToUpper(kind), "CREDIT") {
		return account.TypeCredit
	}
	return account.TypeBank
}

func findRemote(remotes []xero.Account, id string) (xero.Account, bool) {
	for _, r := range remotes {
		if r.AccountID == id {
			return r, true
		}
	}
	return xero.Account{}, false
}

func failedImport(err error) *ImportResult {
	return &ImportResult{
		Accounts: []*account.Account{},
		Errors:   []string{err.Error()},
		Message:  err.Error(),
	}
}
