package gdprerr

import (
	"errors"
	"fmt"
)

var (
	// Request errors
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")

	// State machine errors
	ErrConflict    = errors.New("conflict")
	ErrNotEligible = errors.New("not eligible")

	// Crypto errors
	ErrDecryption = errors.New("decryption failed")
	ErrEncryption = errors.New("encryption failed")

	// Session errors
	ErrTenantScope = errors.New("tenant scope not established")
)

func NewValidationError(details error) error {
	return fmt.Errorf("%w: %w", ErrValidation, details)
}

func NewNotFoundError(resource string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, resource, id)
}

func NewActiveRequestConflictError(patientID int64) error {
	return fmt.Errorf("%w: patient %d already has an active erasure request", ErrConflict, patientID)
}

func NewIllegalTransitionError(action Action, from string) error {
	return fmt.Errorf("%w: cannot %s a request in state %s", ErrConflict, action, from)
}

func NewNotEligibleError(action Action, reason string) error {
	return fmt.Errorf("%w: cannot %s: %s", ErrNotEligible, action, reason)
}

func NewDecryptionError(reason string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecryption, reason, err)
	}
	return fmt.Errorf("%w: %s", ErrDecryption, reason)
}

func NewEncryptionError(reason string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEncryption, reason, err)
}

func NewStaleStateError(requestID string, expected string) error {
	return fmt.Errorf("%w: request %s is no longer %s", ErrConflict, requestID, expected)
}

func NewDuplicateError(resource string) error {
	return fmt.Errorf("%w: %s already exists", ErrConflict, resource)
}

func NewTenantScopeError(operation string) error {
	return fmt.Errorf("%w: %s requires a clinic-scoped session", ErrTenantScope, operation)
}

func IsValidation(err error) bool  { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsNotEligible(err error) bool { return errors.Is(err, ErrNotEligible) }
func IsDecryption(err error) bool  { return errors.Is(err, ErrDecryption) }
func IsTenantScope(err error) bool { return errors.Is(err, ErrTenantScope) }
