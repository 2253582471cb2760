package salmon

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// KDFAlgorithm names a password based key derivation function.
type KDFAlgorithm string

const (
	KDFPBKDF2SHA256 KDFAlgorithm = "pbkdf2-sha256"
	KDFArgon2id     KDFAlgorithm = "argon2id"
	KDFScrypt       KDFAlgorithm = "scrypt"
)

const (
	// DefaultPBKDF2Iterations for new drives
	DefaultPBKDF2Iterations = 100000
	// DefaultSaltSize in bytes
	DefaultSaltSize = 32

	minPBKDF2Iterations = 1000
	minSaltSize         = 16
	scryptMinLogN       = 10
	scryptR             = 8
	scryptP             = 1
)

// KDFParams is stored in the drive config so the password key can be
// re-derived on open.
type KDFParams struct {
	Algorithm KDFAlgorithm `json:"algorithm" yaml:"algorithm"`
	// Iterations is the PBKDF2 round count, the argon2id time cost, or log2(N) for scrypt
	Iterations  uint32 `json:"iterations" yaml:"iterations"`
	Memory      uint32 `json:"memory,omitempty" yaml:"memory"`           // argon2id, KiB
	Parallelism uint8  `json:"parallelism,omitempty" yaml:"parallelism"` // argon2id
	Salt        []byte `json:"salt,omitempty" yaml:"-"`
}

// DefaultKDFParams returns PBKDF2-SHA256 with DefaultPBKDF2Iterations.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Algorithm:  KDFPBKDF2SHA256,
		Iterations: DefaultPBKDF2Iterations,
	}
}

// Validate rejects weak or unknown parameters, including ones read from a
// modified config file.
func (p *KDFParams) Validate() error {
	switch p.Algorithm {
	case KDFPBKDF2SHA256:
		if p.Iterations < minPBKDF2Iterations {
			return NewValidationError("kdf.iterations", p.Iterations,
				fmt.Sprintf("pbkdf2 iterations must be at least %d", minPBKDF2Iterations))
		}
	case KDFArgon2id:
		if p.Iterations < 1 || p.Iterations > 100 {
			return NewValidationError("kdf.iterations", p.Iterations, "argon2id iterations must be between 1 and 100")
		}
		if p.Memory < 8*1024 || p.Memory > 4*1024*1024 {
			return NewValidationError("kdf.memory", p.Memory, "argon2id memory must be between 8 MiB and 4 GiB")
		}
		if p.Parallelism < 1 {
			return NewValidationError("kdf.parallelism", p.Parallelism, "argon2id parallelism must be at least 1")
		}
	case KDFScrypt:
		if p.Iterations < scryptMinLogN || p.Iterations > 30 {
			return NewValidationError("kdf.iterations", p.Iterations, "scrypt logN must be between 10 and 30")
		}
	default:
		return NewValidationError("kdf.algorithm", p.Algorithm, "unsupported key derivation function")
	}
	if p.Salt != nil && len(p.Salt) < minSaltSize {
		return NewValidationError("kdf.salt", len(p.Salt), "salt too short")
	}
	return nil
}

// WithNewSalt returns a copy of p carrying a fresh random salt.
func (p KDFParams) WithNewSalt() (KDFParams, error) {
	salt, err := RandomBytes(DefaultSaltSize)
	if err != nil {
		return p, err
	}
	p.Salt = salt
	return p, nil
}

// DeriveKey derives a KeyLength key from password and the stored salt.
func (p *KDFParams) DeriveKey(password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, NewValidationError("password", nil, "password cannot be empty")
	}
	if len(p.Salt) == 0 {
		return nil, NewValidationError("kdf.salt", nil, "salt cannot be empty")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Algorithm {
	case KDFArgon2id:
		return argon2.IDKey(password, p.Salt, p.Iterations, p.Memory, p.Parallelism, KeyLength), nil
	case KDFScrypt:
		k, err := scrypt.Key(password, p.Salt, 1<<p.Iterations, scryptR, scryptP, KeyLength)
		if err != nil {
			return nil, fmt.Errorf("scrypt failed: %w", err)
		}
		return k, nil
	default:
		return pbkdf2.Key(password, p.Salt, int(p.Iterations), KeyLength, sha256.New), nil
	}
}
