package salmon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// ConfigFileName is the drive configuration file inside the drive directory.
	// The dot is not part of the base64url alphabet so it never clashes with
	// an encrypted name.
	ConfigFileName = "vault.slmcfg"
	// ContentDirName holds the encrypted files.
	ContentDirName = "fs"
	// ConfigVersion is the config file format version.
	ConfigVersion = 1

	creator = "salmon-go"
)

// DriveConfig is the content of the config file. It holds the drive key and
// hash key wrapped under a key derived from the password.
type DriveConfig struct {
	// Creator documents the writer for humans.
	Creator string
	Version int
	DriveID string
	KDF     KDFParams
	// WrapNonce seeds the CTR keystream that encrypts EncryptedKeys.
	WrapNonce []byte
	// EncryptedKeys is the drive key followed by the hash key.
	EncryptedKeys []byte
	// Signature is HMAC-SHA256 over WrapNonce and EncryptedKeys.
	Signature []byte
	// ChunkSize for new files, 0 disables content integrity.
	ChunkSize int
	// NameIntegrity appends a tag to encrypted names.
	NameIntegrity bool
}

func wrapKeys(pwKey []byte) (encKey, macKey []byte) {
	return hkdfDerive(pwKey, hkdfInfoWrapEnc, KeyLength), hkdfDerive(pwKey, hkdfInfoWrapMac, HashKeyLength)
}

func configSignature(macKey, nonce, ct []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(nonce)
	mac.Write(ct)
	return mac.Sum(nil)
}

// EncryptKeys wraps driveKey and hashKey under password. A fresh salt and wrap
// nonce are generated every time.
func (c *DriveConfig) EncryptKeys(password []byte, kdf KDFParams, driveKey, hashKey []byte) error {
	kdf, err := kdf.WithNewSalt()
	if err != nil {
		return err
	}
	pwKey, err := kdf.DeriveKey(password)
	if err != nil {
		return err
	}
	encKey, macKey := wrapKeys(pwKey)
	nonce, err := RandomBytes(NonceLength)
	if err != nil {
		return err
	}
	xf, err := NewTransformer(ProviderAuto, encKey, nonce)
	if err != nil {
		return err
	}
	plain := append(append([]byte(nil), driveKey...), hashKey...)
	ct := make([]byte, len(plain))
	xf.XORKeyStream(ct, plain, 0)

	c.KDF = kdf
	c.WrapNonce = nonce
	c.EncryptedKeys = ct
	c.Signature = configSignature(macKey, nonce, ct)
	return nil
}

// DecryptKeys unwraps the drive key and hash key. A wrong password fails the
// signature check and returns a *SecurityError.
func (c *DriveConfig) DecryptKeys(password []byte) (driveKey, hashKey []byte, err error) {
	pwKey, err := c.KDF.DeriveKey(password)
	if err != nil {
		return nil, nil, &SecurityError{Message: "key derivation failed", Err: err}
	}
	encKey, macKey := wrapKeys(pwKey)
	if !hmac.Equal(configSignature(macKey, c.WrapNonce, c.EncryptedKeys), c.Signature) {
		return nil, nil, &SecurityError{Message: "wrong password or corrupted config"}
	}
	if len(c.EncryptedKeys) != KeyLength+HashKeyLength {
		return nil, nil, &SecurityError{Message: "bad wrapped key length"}
	}
	xf, err := NewTransformer(ProviderAuto, encKey, c.WrapNonce)
	if err != nil {
		return nil, nil, &SecurityError{Message: "bad wrap nonce", Err: err}
	}
	plain := make([]byte, len(c.EncryptedKeys))
	xf.XORKeyStream(plain, c.EncryptedKeys, 0)
	return plain[:KeyLength], plain[KeyLength:], nil
}

// LoadDriveConfig reads the config file in dir. If only the temporary file of
// an interrupted write exists, that one is used.
func LoadDriveConfig(dir RealFile) (*DriveConfig, error) {
	file := dir.Child(ConfigFileName)
	if !file.Exists() {
		tmp := dir.Child(ConfigFileName + ".tmp")
		if !tmp.Exists() {
			return nil, NewIOError("open", file.Path(), -1, errors.New("drive config not found"))
		}
		file = tmp
	}
	in, err := file.OpenRead()
	if err != nil {
		return nil, err
	}
	defer in.Close()
	size, err := in.Size()
	if err != nil {
		return nil, NewIOError("stat", file.Path(), -1, err)
	}
	js := make([]byte, size)
	if _, err := in.ReadAt(js, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, NewIOError("read", file.Path(), 0, err)
	}
	var c DriveConfig
	if err := json.Unmarshal(js, &c); err != nil {
		return nil, fmt.Errorf("failed to parse drive config: %w", err)
	}
	if c.Version != ConfigVersion {
		return nil, fmt.Errorf("unsupported drive config version %d", c.Version)
	}
	if err := c.KDF.Validate(); err != nil {
		return nil, err
	}
	if c.ChunkSize != 0 {
		if err := ValidateChunkSize(c.ChunkSize); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// WriteFile stores the config in dir through a temporary file.
func (c *DriveConfig) WriteFile(dir RealFile) error {
	js, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')

	tmp := dir.Child(ConfigFileName + ".tmp")
	out, err := tmp.OpenWrite(true)
	if err != nil {
		return err
	}
	if _, err := out.WriteAt(js, 0); err != nil {
		out.Close()
		return NewIOError("write", tmp.Path(), 0, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return NewIOError("sync", tmp.Path(), -1, err)
	}
	if err := out.Close(); err != nil {
		return NewIOError("close", tmp.Path(), -1, err)
	}
	if old := dir.Child(ConfigFileName); old.Exists() {
		if err := old.Delete(); err != nil {
			return err
		}
	}
	_, err = tmp.RenameTo(ConfigFileName)
	return err
}
