package acksp

import (
	"errors"
	"fmt"
)

// Sentinel errors - Configuration
var (
	ErrMissingRPCURL   = errors.New("acksp: RPCURL is required")
	ErrMissingContract = errors.New("acksp: ContractAddress is required")
	ErrMissingBaoAddr  = errors.New("acksp: BaoAddr is required")
	ErrMissingBaoToken = errors.New("acksp: BaoToken is required")
)

// Sentinel errors - Keys
var (
	ErrKeyNotFound        = errors.New("acksp: key not found")
	ErrEscrowNotAvailable = errors.New("acksp: no escrowed private key")
	ErrInvalidKeyMaterial = errors.New("acksp: invalid private key material")
	ErrInvalidPublicKey   = errors.New("acksp: invalid public key")
)

// Sentinel errors - Ledger
var (
	ErrTransactionReverted = errors.New("acksp: transaction reverted")
	ErrConfirmationTimeout = errors.New("acksp: timed out waiting for confirmation")
	ErrUnexpectedResult    = errors.New("acksp: unexpected view result")
)

// Sentinel errors - Crypto
var (
	ErrDecryptionFailed = errors.New("acksp: decryption failed")
)

// Sentinel errors - OpenBao
var (
	ErrBaoConnection    = errors.New("acksp: failed to connect to OpenBao")
	ErrBaoAuth          = errors.New("acksp: authentication failed")
	ErrBaoSealed        = errors.New("acksp: OpenBao is sealed")
	ErrBaoUnavailable   = errors.New("acksp: OpenBao is unavailable")
	ErrBaoKeyNotFound   = errors.New("acksp: OpenBao key not found")
	ErrInvalidSignature = errors.New("acksp: invalid signature")
	ErrBaoMalformed     = errors.New("acksp: malformed OpenBao reply")
)

// Sentinel errors - Store
var (
	ErrStorePersist      = errors.New("acksp: failed to persist")
	ErrStoreCorrupted    = errors.New("acksp: store corrupted")
	ErrStoredKeyNotFound = errors.New("acksp: stored key not found")
	ErrStoredKeyExists   = errors.New("acksp: stored key already exists")
)

// BaoError represents an OpenBao API error.
type BaoError struct {
	StatusCode int
	Errors     []string
	RequestID  string
}

// Error implements the error interface.
func (e *BaoError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("OpenBao error (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("OpenBao error (HTTP %d): %s", e.StatusCode, e.Errors[0])
}

// Is maps HTTP status codes onto sentinel errors.
func (e *BaoError) Is(target error) bool {
	switch e.StatusCode {
	case 403:
		return errors.Is(target, ErrBaoAuth)
	case 404:
		return errors.Is(target, ErrBaoKeyNotFound)
	case 503:
		return errors.Is(target, ErrBaoSealed)
	default:
		return false
	}
}

// NewBaoError creates a new BaoError with the given parameters.
func NewBaoError(statusCode int, errs []string, requestID string) *BaoError {
	return &BaoError{
		StatusCode: statusCode,
		Errors:     errs,
		RequestID:  requestID,
	}
}

// RecordError reports which registry record an aggregate operation failed on.
type RecordError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// ValidationError represents an invalid option or configuration value.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError with the given field and message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
