package salmon

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds plaintext names so that the encoded form stays within
// the 255 byte limit of common filesystems.
const MaxNameLength = 128

var nameEncoding = base64.RawURLEncoding

// validName rejects names that cannot be stored as a single path element.
func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return NewValidationError("name", name, "invalid name")
	case strings.ContainsAny(name, "/\\\x00"):
		return NewValidationError("name", name, "name contains a path separator")
	case len(name) > MaxNameLength:
		return NewValidationError("name", len(name), fmt.Sprintf("name exceeds %d bytes", MaxNameLength))
	case !utf8.ValidString(name):
		return NewValidationError("name", name, "name is not valid UTF-8")
	}
	return nil
}

// encryptName encrypts name under the drive key with a fresh nonce. The result
// is the base64url encoding of header||ciphertext, followed by an HMAC tag when
// name integrity is enabled.
func (d *Drive) encryptName(ctx context.Context, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	driveKey, _, err := d.keys()
	if err != nil {
		return "", err
	}
	nonce, err := d.NextNonce(ctx)
	if err != nil {
		return "", err
	}
	header, err := NewHeader(nonce, 0).MarshalBinary()
	if err != nil {
		return "", err
	}
	xf, err := NewTransformer(d.settings.Provider, driveKey, nonce)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(header)+len(name), len(header)+len(name)+HashLength)
	copy(out, header)
	xf.XORKeyStream(out[len(header):], []byte(name), 0)
	if d.config.NameIntegrity {
		out = append(out, d.nameTag(out)...)
	}
	return nameEncoding.EncodeToString(out), nil
}

// decryptName reverses encryptName. Any failure maps to ErrBadName.
func (d *Drive) decryptName(encoded string) (string, error) {
	driveKey, _, err := d.keys()
	if err != nil {
		return "", err
	}
	raw, err := nameEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadName, err)
	}
	if d.config.NameIntegrity {
		if len(raw) < HeaderSize+HashLength {
			return "", ErrBadName
		}
		body, tag := raw[:len(raw)-HashLength], raw[len(raw)-HashLength:]
		if !hmac.Equal(tag, d.nameTag(body)) {
			return "", fmt.Errorf("%w: tag mismatch", ErrBadName)
		}
		raw = body
	}
	if len(raw) <= HeaderSize {
		return "", ErrBadName
	}
	header, err := ParseHeader(raw[:HeaderSize])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadName, err)
	}
	xf, err := NewTransformer(d.settings.Provider, driveKey, header.Nonce)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(raw)-HeaderSize)
	xf.XORKeyStream(plain, raw[HeaderSize:], 0)
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: not UTF-8", ErrBadName)
	}
	name := string(plain)
	if validName(name) != nil {
		return "", ErrBadName
	}
	return name, nil
}

func (d *Drive) nameTag(data []byte) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	mac := hmac.New(sha256.New, d.nameKey)
	mac.Write(data)
	return mac.Sum(nil)
}
