package sequence

import (
	"errors"
	"fmt"
)

// Kind classifies sequence failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindExhausted
	KindNotFound
	KindExists
	KindNotActive
	KindRevoked
	KindTampered
	KindAuthMismatch
	KindInvalidRange
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindExhausted:    "exhausted",
	KindNotFound:     "not_found",
	KindExists:       "exists",
	KindNotActive:    "not_active",
	KindRevoked:      "revoked",
	KindTampered:     "tampered",
	KindAuthMismatch: "auth_mismatch",
	KindInvalidRange: "invalid_range",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Sentinel errors, one per kind. Use errors.Is against these.
var (
	ErrExhausted    = errors.New("sequence exhausted")
	ErrNotFound     = errors.New("sequence not found")
	ErrExists       = errors.New("sequence already exists")
	ErrNotActive    = errors.New("sequence not active")
	ErrRevoked      = errors.New("sequence revoked")
	ErrTampered     = errors.New("sequence store checksum mismatch")
	ErrAuthMismatch = errors.New("sequence auth id mismatch")
	ErrInvalidRange = errors.New("invalid nonce range")
	ErrSequence     = errors.New("sequence error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindExhausted:
		return ErrExhausted
	case KindNotFound:
		return ErrNotFound
	case KindExists:
		return ErrExists
	case KindNotActive:
		return ErrNotActive
	case KindRevoked:
		return ErrRevoked
	case KindTampered:
		return ErrTampered
	case KindAuthMismatch:
		return ErrAuthMismatch
	case KindInvalidRange:
		return ErrInvalidRange
	default:
		return ErrSequence
	}
}

// Error is returned by every failing sequencer operation.
type Error struct {
	Kind    Kind
	DriveID string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.DriveID != "" {
		return fmt.Sprintf("sequence error: %s: %s", e.DriveID, msg)
	}
	return fmt.Sprintf("sequence error: %s", msg)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind.sentinel()
}

// Is lets errors.Is match by kind sentinel even when Err carries a cause.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind Kind, driveID, message string) error {
	return &Error{Kind: kind, DriveID: driveID, Message: message}
}

// KindOf returns the kind of err, or KindUnknown if err is not a sequence error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
