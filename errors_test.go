package salmon

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ValidationError
		wantMsg string
	}{
		{
			name:    "with field",
			err:     &ValidationError{Field: "chunk_size", Value: 1024, Message: "too small"},
			wantMsg: "validation error: chunk_size: too small",
		},
		{
			name:    "without field",
			err:     &ValidationError{Message: "invalid settings"},
			wantMsg: "validation error: invalid settings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestSecurityError(t *testing.T) {
	err := NewSecurityError("/vault", errors.New("wrong password"))
	if got := err.Error(); got != "security error: /vault: wrong password" {
		t.Errorf("Error() = %q", got)
	}
	if !IsSecurityError(err) {
		t.Error("IsSecurityError should match")
	}

	bare := &SecurityError{Message: "locked"}
	if !errors.Is(bare, ErrSecurity) {
		t.Error("bare SecurityError should unwrap to ErrSecurity")
	}
}

func TestIntegrityError(t *testing.T) {
	err := fmt.Errorf("read failed: %w", &IntegrityError{Path: "/a", ChunkIdx: 2, Message: "tag mismatch"})
	if !IsIntegrityError(err) {
		t.Error("IsIntegrityError should see through wrapping")
	}
	if !errors.Is(err, ErrIntegrity) {
		t.Error("IntegrityError should unwrap to ErrIntegrity")
	}
	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.ChunkIdx != 2 {
		t.Errorf("errors.As chunk index = %v", ie)
	}
	want := "integrity error: /a (chunk 2): tag mismatch"
	if ie.Error() != want {
		t.Errorf("Error() = %q, want %q", ie.Error(), want)
	}
}

func TestIOError(t *testing.T) {
	tests := []struct {
		name string
		err  *IOError
		want string
	}{
		{"with offset", &IOError{Operation: "read", Path: "/f", Offset: 16, Message: "eof"}, "io error: read /f at offset 16: eof"},
		{"no offset", &IOError{Operation: "open", Path: "/f", Offset: -1, Message: "denied"}, "io error: open /f: denied"},
		{"no path", &IOError{Operation: "sync", Offset: -1, Message: "busy"}, "io error: sync: busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	base := errors.New("disk full")
	err := NewIOError("write", "/f", 0, base)
	if !IsIOError(err) || !errors.Is(err, base) {
		t.Error("NewIOError should wrap its cause")
	}
}

func TestIsSequenceError(t *testing.T) {
	err := fmt.Errorf("next nonce: %w", &sequence.Error{Kind: sequence.KindExhausted})
	if !IsSequenceError(err) {
		t.Error("IsSequenceError should match")
	}
	if !errors.Is(err, sequence.ErrExhausted) {
		t.Error("should match exhausted sentinel")
	}
	if IsSequenceError(ErrIntegrity) {
		t.Error("ErrIntegrity is not a sequence error")
	}
}
