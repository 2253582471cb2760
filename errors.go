package salmon

import (
	"errors"
	"fmt"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

// ValidationError represents a configuration or parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SecurityError is returned when a drive cannot be unlocked: wrong password,
// a failed key derivation or a config signature mismatch. No partial drive
// state is kept after it.
type SecurityError struct {
	Path    string
	Message string
	Err     error
}

func (e *SecurityError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("security error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("security error: %s", e.Message)
}

func (e *SecurityError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSecurity
}

// IntegrityError reports a chunk whose tag did not verify. No plaintext of
// that chunk has been released.
type IntegrityError struct {
	Path     string
	ChunkIdx int64
	Message  string
}

func (e *IntegrityError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("integrity error: %s (chunk %d): %s", e.Path, e.ChunkIdx, e.Message)
	}
	return fmt.Sprintf("integrity error: chunk %d: %s", e.ChunkIdx, e.Message)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// IOError represents a failure of the real file underneath a virtual file.
// The cipher layer never retries these.
type IOError struct {
	Operation string // "read", "write", "open", "close", etc.
	Path      string
	Offset    int64
	Message   string
	Err       error
}

func (e *IOError) Error() string {
	if e.Path != "" && e.Offset >= 0 {
		return fmt.Sprintf("io error: %s %s at offset %d: %s", e.Operation, e.Path, e.Offset, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Sentinel errors
var (
	ErrSecurity           = errors.New("security error")
	ErrIntegrity          = errors.New("integrity check failed")
	ErrInvalidKey         = errors.New("invalid encryption key")
	ErrInvalidHeader      = errors.New("invalid file header")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrBadName            = errors.New("cannot decode encrypted name")
	ErrReadOnly           = errors.New("stream is not writable")
	ErrWriteOnly          = errors.New("stream is not readable")
	ErrClosed             = errors.New("stream is closed")
	ErrDriveLocked        = errors.New("drive is locked")
	ErrNilBuffer          = errors.New("buffer cannot be nil")
	ErrNegativeOffset     = errors.New("negative offset not allowed")
	ErrCancelled          = errors.New("operation cancelled")
	ErrSizeMismatch       = errors.New("transferred size does not match source")
)

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewSecurityError creates a new security error
func NewSecurityError(path string, err error) error {
	return &SecurityError{
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, path string, offset int64, err error) error {
	return &IOError{
		Operation: operation,
		Path:      path,
		Offset:    offset,
		Message:   err.Error(),
		Err:       err,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSecurityError checks if an error is a security error
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}

// IsIntegrityError checks if an error is an integrity error
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsSequenceError checks if an error came from the nonce sequencer
func IsSequenceError(err error) bool {
	var se *sequence.Error
	return errors.As(err, &se)
}
