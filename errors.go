package gdprvault

import (
	"errors"

	"github.com/hengadev/gdprvault/internal/gdprerr"
)

// Errors returned by Service operations. Match them with errors.Is or the
// classifiers below; messages carry the detail.
var (
	ErrValidation  = gdprerr.ErrValidation
	ErrNotFound    = gdprerr.ErrNotFound
	ErrConflict    = gdprerr.ErrConflict
	ErrNotEligible = gdprerr.ErrNotEligible
	ErrDecryption  = gdprerr.ErrDecryption
	ErrEncryption  = gdprerr.ErrEncryption
	ErrTenantScope = gdprerr.ErrTenantScope
)

// Configuration and provider errors
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrSecretUnavailable    = errors.New("secret storage unavailable")
)

// IsValidationError reports a malformed input.
func IsValidationError(err error) bool { return gdprerr.IsValidation(err) }

// IsNotFoundError reports a missing patient, identity or request in the session's clinic.
func IsNotFoundError(err error) bool { return gdprerr.IsNotFound(err) }

// IsConflictError reports a lost race or a duplicate active request.
func IsConflictError(err error) bool { return gdprerr.IsConflict(err) }

// IsNotEligibleError reports a well-formed request the current state does not allow.
func IsNotEligibleError(err error) bool { return gdprerr.IsNotEligible(err) }

// IsDecryptionError reports ciphertext that could not be opened.
func IsDecryptionError(err error) bool { return gdprerr.IsDecryption(err) }

// IsTenantScopeError reports a call made without a clinic-scoped context.
func IsTenantScopeError(err error) bool { return gdprerr.IsTenantScope(err) }

// IsRetryableError reports failures worth retrying: store conflicts and an
// unreachable secret store. After a conflict, reload state before trying again.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrSecretUnavailable)
}
