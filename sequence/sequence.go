// Package sequence allocates content nonces exactly once per drive.
//
// A Sequencer owns the persisted ranges and serializes every issuance behind
// a mutex; the new value is written to the Store before it is returned.
package sequence

import (
	"context"
	"fmt"
)

// Status is the lifecycle state of a sequence.
type Status uint8

const (
	StatusNew Status = iota
	StatusActive
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusActive:
		return "Active"
	case StatusRevoked:
		return "Revoked"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses the textual form produced by Status.String.
func ParseStatus(str string) (Status, error) {
	switch str {
	case "New":
		return StatusNew, nil
	case "Active":
		return StatusActive, nil
	case "Revoked":
		return StatusRevoked, nil
	}
	return 0, fmt.Errorf("unknown sequence status %q", str)
}

// Sequence is the nonce range assigned to one device for one drive.
// Nonces encode as base64 in JSON.
type Sequence struct {
	ID        string `json:"id"`
	AuthID    string `json:"authId"`
	NextNonce []byte `json:"nextNonce"`
	MaxNonce  []byte `json:"maxNonce"`
	Status    Status `json:"status"`
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	c := *s
	c.NextNonce = append([]byte(nil), s.NextNonce...)
	c.MaxNonce = append([]byte(nil), s.MaxNonce...)
	return &c
}

// Service is the nonce allocation API. Both the in-process Sequencer and the
// socket client implement it.
type Service interface {
	CreateSequence(ctx context.Context, driveID, authID string) error
	InitSequence(ctx context.Context, driveID, authID string, start, max []byte) error
	SetMaxNonce(ctx context.Context, driveID, authID string, max []byte) error
	NextNonce(ctx context.Context, driveID string) ([]byte, error)
	RevokeSequence(ctx context.Context, driveID string) error
	GetSequence(ctx context.Context, driveID string) (*Sequence, error)
}
