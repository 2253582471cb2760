package salmon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Container layout, all integers little-endian except the nonce:
//
//	magic     [3]byte  "SLM"
//	version   uint8
//	nonce     [8]byte  high half of the CTR counter
//	chunkSize uint32   0 = no integrity
//	chunks...          [tag 32][ciphertext <= chunkSize] when chunkSize > 0
const (
	// CurrentVersion is the container format version written by this package
	CurrentVersion = uint8(2)

	// HeaderSize is the fixed size of the container header
	HeaderSize = 3 + 1 + NonceLength + 4
)

// MagicBytes identifies a container.
var MagicBytes = [3]byte{'S', 'L', 'M'}

// Header is written once at offset 0 of every encrypted file and never changes.
type Header struct {
	Magic     [3]byte
	Version   uint8
	Nonce     []byte
	ChunkSize uint32
}

// NewHeader creates a header for the current format version.
func NewHeader(nonce []byte, chunkSize uint32) *Header {
	return &Header{
		Magic:     MagicBytes,
		Version:   CurrentVersion,
		Nonce:     append([]byte(nil), nonce...),
		ChunkSize: chunkSize,
	}
}

// Size returns the encoded header size in bytes
func (h *Header) Size() int {
	return HeaderSize
}

// HasIntegrity reports whether chunks carry tags.
func (h *Header) HasIntegrity() bool {
	return h.ChunkSize > 0
}

// MarshalBinary encodes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := h.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the header to the given writer
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	if err := h.Validate(); err != nil {
		return 0, err
	}
	buf := new(bytes.Buffer)
	buf.Write(h.Magic[:])
	if err := binary.Write(buf, binary.LittleEndian, h.Version); err != nil {
		return 0, fmt.Errorf("failed to write version: %w", err)
	}
	buf.Write(h.Nonce)
	if err := binary.Write(buf, binary.LittleEndian, h.ChunkSize); err != nil {
		return 0, fmt.Errorf("failed to write chunk size: %w", err)
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom reads the header from the given reader
func (h *Header) ReadFrom(r io.Reader) (int64, error) {
	var totalRead int64

	n, err := io.ReadFull(r, h.Magic[:])
	totalRead += int64(n)
	if err != nil {
		return totalRead, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if h.Magic != MagicBytes {
		return totalRead, ErrInvalidHeader
	}

	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return totalRead, fmt.Errorf("failed to read version: %w", err)
	}
	totalRead++
	if h.Version != CurrentVersion {
		return totalRead, ErrUnsupportedVersion
	}

	h.Nonce = make([]byte, NonceLength)
	n, err = io.ReadFull(r, h.Nonce)
	totalRead += int64(n)
	if err != nil {
		return totalRead, fmt.Errorf("failed to read nonce: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &h.ChunkSize); err != nil {
		return totalRead, fmt.Errorf("failed to read chunk size: %w", err)
	}
	totalRead += 4

	return totalRead, h.Validate()
}

// ParseHeader decodes a header from the start of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeader
	}
	h := &Header{}
	if _, err := h.ReadFrom(bytes.NewReader(data[:HeaderSize])); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate checks if the header is valid
func (h *Header) Validate() error {
	if h.Magic != MagicBytes {
		return ErrInvalidHeader
	}
	if h.Version != CurrentVersion {
		return ErrUnsupportedVersion
	}
	if err := ValidateNonce(h.Nonce); err != nil {
		return err
	}
	if h.ChunkSize != 0 {
		if err := ValidateChunkSize(int(h.ChunkSize)); err != nil {
			return err
		}
	}
	return nil
}
