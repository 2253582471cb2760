package salmon

import (
	"strings"
	"testing"
)

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(s *Settings)
		wantErr bool
		errMsg  string
	}{
		{name: "defaults", modify: func(s *Settings) {}},
		{name: "integrity disabled", modify: func(s *Settings) { s.ChunkSize = 0 }},
		{
			name:    "unknown provider",
			modify:  func(s *Settings) { s.Provider = ProviderType(9) },
			wantErr: true,
			errMsg:  "unknown provider",
		},
		{
			name:    "chunk size too small",
			modify:  func(s *Settings) { s.ChunkSize = 32 },
			wantErr: true,
			errMsg:  "must be between",
		},
		{
			name:    "chunk size not aligned",
			modify:  func(s *Settings) { s.ChunkSize = 4100 },
			wantErr: true,
			errMsg:  "multiple of 16",
		},
		{
			name:    "negative threads",
			modify:  func(s *Settings) { s.Threads = -1 },
			wantErr: true,
			errMsg:  "threads",
		},
		{
			name:    "too many threads",
			modify:  func(s *Settings) { s.Threads = 2048 },
			wantErr: true,
		},
		{
			name:    "negative buffer size",
			modify:  func(s *Settings) { s.BufferSize = -1 },
			wantErr: true,
		},
		{
			name:    "weak kdf",
			modify:  func(s *Settings) { s.KDF.Iterations = 10 },
			wantErr: true,
			errMsg:  "iterations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}

	var nilSettings *Settings
	if err := nilSettings.Validate(); err == nil {
		t.Error("nil settings should not validate")
	}
}

func TestKDFParams_Validate(t *testing.T) {
	salt := make([]byte, DefaultSaltSize)
	tests := []struct {
		name    string
		params  KDFParams
		wantErr bool
	}{
		{"default pbkdf2", DefaultKDFParams(), false},
		{"pbkdf2 too few iterations", KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 999}, true},
		{"argon2id valid", KDFParams{Algorithm: KDFArgon2id, Iterations: 1, Memory: 64 * 1024, Parallelism: 2}, false},
		{"argon2id zero iterations", KDFParams{Algorithm: KDFArgon2id, Iterations: 0, Memory: 64 * 1024, Parallelism: 2}, true},
		{"argon2id memory too low", KDFParams{Algorithm: KDFArgon2id, Iterations: 1, Memory: 1024, Parallelism: 2}, true},
		{"argon2id zero parallelism", KDFParams{Algorithm: KDFArgon2id, Iterations: 1, Memory: 64 * 1024}, true},
		{"scrypt valid", KDFParams{Algorithm: KDFScrypt, Iterations: 15}, false},
		{"scrypt logN too small", KDFParams{Algorithm: KDFScrypt, Iterations: 4}, true},
		{"unknown algorithm", KDFParams{Algorithm: "md5", Iterations: 100000}, true},
		{"short salt", KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 100000, Salt: []byte("short")}, true},
		{"full salt", KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 100000, Salt: salt}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsValidationError(err) {
				t.Errorf("Validate() should return ValidationError, got %T", err)
			}
		})
	}
}

func TestKDFParams_DeriveKey(t *testing.T) {
	params, err := KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 1000}.WithNewSalt()
	if err != nil {
		t.Fatalf("WithNewSalt failed: %v", err)
	}
	k1, err := params.DeriveKey([]byte("password"))
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, _ := params.DeriveKey([]byte("password"))
	k3, _ := params.DeriveKey([]byte("Password"))
	if len(k1) != KeyLength {
		t.Fatalf("key length = %d, want %d", len(k1), KeyLength)
	}
	if string(k1) != string(k2) {
		t.Error("same password and salt should derive the same key")
	}
	if string(k1) == string(k3) {
		t.Error("different passwords should derive different keys")
	}

	if _, err := params.DeriveKey(nil); !IsValidationError(err) {
		t.Errorf("empty password should be rejected, got %v", err)
	}
	noSalt := KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 1000}
	if _, err := noSalt.DeriveKey([]byte("password")); err == nil {
		t.Error("missing salt should be rejected")
	}
}
