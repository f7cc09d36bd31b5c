package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"homeledger/internal/domain/account"
	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/infrastructure/xero"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/principal"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogError("Failed to encode response", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: msg})
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid request: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var apiErr *xero.APIError
	switch {
	case errors.Is(err, principal.ErrMissing),
		errors.Is(err, ledgersync.ErrAuthenticationExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ledgersync.ErrForbidden),
		errors.Is(err, account.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledgersync.ErrConnectionNotFound),
		errors.Is(err, ledgersync.ErrMappingNotFound),
		errors.Is(err, ledgersync.ErrRemoteAccountNotFound),
		errors.Is(err, account.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrDuplicateAccount):
		return http.StatusConflict
	case errors.Is(err, ledgersync.ErrInvalidState),
		errors.Is(err, ledgersync.ErrInvalidSyncFrequency),
		errors.Is(err, ledgersync.ErrInvalidDateRange),
		errors.Is(err, ledgersync.ErrNoTenant),
		errors.Is(err, account.ErrInvalidAccountType),
		errors.Is(err, account.ErrInvalidCurrency):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Unexpected errors are logged and hidden behind a
// generic message.
func writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		logger.LogError(msg, err)
		writeMessage(w, status, msg)
	case http.StatusBadGateway:
		logger.LogError(msg, err)
		writeMessage(w, status, "accounting service request failed")
	default:
		writeMessage(w, status, err.Error())
	}
}
