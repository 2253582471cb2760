package salmon

import (
	"io"
	"runtime"

	"github.com/sirupsen/logrus"
)

const (
	// KeyLength is the AES-256 key size in bytes.
	KeyLength = 32
	// HashKeyLength is the HMAC-SHA256 key size in bytes.
	HashKeyLength = 32
	// HashLength is the size of a chunk tag in bytes.
	HashLength = 32
	// NonceLength is the size of a content nonce in bytes.
	NonceLength = 8
	// BlockSize is the AES block size.
	BlockSize = 16

	// DefaultChunkSize is the default integrity chunk size (256 KiB)
	DefaultChunkSize = 256 * 1024
	// MinChunkSize is the smallest allowed chunk size
	MinChunkSize = 64
	// MaxChunkSize is the largest allowed chunk size (16 MiB)
	MaxChunkSize = 16 * 1024 * 1024

	// DefaultBufferSize is the copy buffer used by the commander
	DefaultBufferSize = 512 * 1024
)

// ProviderType selects the AES keystream implementation.
type ProviderType uint8

const (
	// ProviderAuto picks ProviderCTR when the CPU has AES instructions, else ProviderBlock
	ProviderAuto ProviderType = iota
	// ProviderBlock encrypts every counter block individually
	ProviderBlock
	// ProviderCTR uses the bulk crypto/cipher CTR stream
	ProviderCTR
)

// String returns the string representation of the provider
func (p ProviderType) String() string {
	switch p {
	case ProviderAuto:
		return "auto"
	case ProviderBlock:
		return "block"
	case ProviderCTR:
		return "ctr"
	default:
		return "unknown"
	}
}

// ParseProvider is the inverse of ProviderType.String.
func ParseProvider(s string) (ProviderType, error) {
	switch s {
	case "", "auto":
		return ProviderAuto, nil
	case "block":
		return ProviderBlock, nil
	case "ctr":
		return ProviderCTR, nil
	}
	return 0, NewValidationError("provider", s, "unknown provider")
}

// Mode selects whether a stream encrypts or decrypts.
type Mode uint8

const (
	ModeDecrypt Mode = iota
	ModeEncrypt
)

func (m Mode) String() string {
	if m == ModeEncrypt {
		return "encrypt"
	}
	return "decrypt"
}

// Settings is threaded through every drive and commander. There is no
// package-level configuration.
type Settings struct {
	// Provider selects the keystream implementation
	Provider ProviderType

	// KDF configures password key derivation for new drives
	KDF KDFParams

	// ChunkSize for integrity chunks of new files, 0 disables integrity
	ChunkSize int

	// NameIntegrity appends a tag to encrypted file names
	NameIntegrity bool

	// Threads is the partition count for import/export, 0 means runtime.NumCPU()
	Threads int

	// BufferSize is the copy buffer per partition
	BufferSize int

	// Logger receives drive and commander events, nil discards them
	Logger logrus.FieldLogger
}

// DefaultSettings returns settings with integrity enabled and PBKDF2-SHA256.
func DefaultSettings() Settings {
	return Settings{
		Provider:   ProviderAuto,
		KDF:        DefaultKDFParams(),
		ChunkSize:  DefaultChunkSize,
		Threads:    runtime.NumCPU(),
		BufferSize: DefaultBufferSize,
	}
}

// Validate checks if the settings are valid
func (s *Settings) Validate() error {
	if s == nil {
		return NewValidationError("settings", nil, "settings cannot be nil")
	}
	if s.Provider > ProviderCTR {
		return NewValidationError("provider", s.Provider, "unknown provider")
	}
	if s.ChunkSize != 0 {
		if err := ValidateChunkSize(s.ChunkSize); err != nil {
			return err
		}
	}
	if s.Threads < 0 || s.Threads > 1024 {
		return NewValidationError("threads", s.Threads, "must be between 0 and 1024")
	}
	if s.BufferSize < 0 {
		return NewValidationError("buffer_size", s.BufferSize, "cannot be negative")
	}
	return s.KDF.Validate()
}

func (s *Settings) threads() int {
	if s.Threads <= 0 {
		return runtime.NumCPU()
	}
	return s.Threads
}

func (s *Settings) bufferSize() int {
	if s.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return s.BufferSize
}

func (s *Settings) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return discardLogger()
	}
	return s.Logger
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
