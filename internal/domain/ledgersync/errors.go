package ledgersync

import "errors"

// Domain errors
var (
	// ErrAuthenticationExpired means the stored credentials can no longer be
	// used or refreshed; the user has to authorize again.
	ErrAuthenticationExpired = errors.New("ledger authentication expired, reconnect to continue")
	ErrConnectionNotFound    = errors.New("ledger connection not found")
	ErrMappingNotFound       = errors.New("account mapping not found")
	ErrRemoteAccountNotFound = errors.New("remote account not found")
	ErrForbidden             = errors.New("access forbidden")
	ErrInvalidSyncFrequency  = errors.New("invalid sync frequency")
	ErrInvalidState          = errors.New("invalid or expired authorization state")
	ErrNoTenant              = errors.New("authorization did not grant access to any organisation")
	ErrInvalidDateRange      = errors.New("statement range start must not be after its end")
)
