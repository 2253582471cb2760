package salmon

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

// authPayload is the plaintext of an auth file.
type authPayload struct {
	DriveID      string `json:"driveId"`
	TargetAuthID string `json:"targetAuthId"`
	Start        []byte `json:"start"`
	Max          []byte `json:"max"`
}

// AuthID returns the auth id of this device for the drive. If the device has
// no sequence, or it was revoked, a New one is registered so that another
// device can authorize it.
func (d *Drive) AuthID(ctx context.Context) (string, error) {
	seq, err := d.seq.GetSequence(ctx, d.ID())
	switch {
	case err == nil && seq.Status != sequence.StatusRevoked:
		return seq.AuthID, nil
	case err != nil && sequence.KindOf(err) != sequence.KindNotFound:
		return "", err
	}
	authID := uuid.NewString()
	if err := d.seq.CreateSequence(ctx, d.ID(), authID); err != nil {
		return "", err
	}
	d.log.WithField("auth", authID).Info("device registered for authorization")
	return authID, nil
}

func (d *Drive) authKeys() (encKey, macKey []byte, err error) {
	driveKey, _, err := d.keys()
	if err != nil {
		return nil, nil, err
	}
	return hkdfDerive(driveKey, hkdfInfoAuthEnc, KeyLength), hkdfDerive(driveKey, hkdfInfoAuthMac, HashKeyLength), nil
}

func authTag(macKey, body []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	return mac.Sum(nil)
}

// ExportAuthFile hands the upper half of this device's remaining nonce range
// to the device identified by targetAuthID. The range is removed from this
// device before the file is written.
func (d *Drive) ExportAuthFile(ctx context.Context, targetAuthID string, dst RealFile) error {
	if targetAuthID == "" {
		return NewValidationError("targetAuthID", targetAuthID, "auth id cannot be empty")
	}
	encKey, macKey, err := d.authKeys()
	if err != nil {
		return err
	}
	own, err := d.seq.GetSequence(ctx, d.ID())
	if err != nil {
		return err
	}
	if own.AuthID == targetAuthID {
		return NewValidationError("targetAuthID", targetAuthID, "cannot authorize the exporting device")
	}
	nonce, err := d.NextNonce(ctx)
	if err != nil {
		return err
	}
	// re-read after the nonce allocation moved next
	if own, err = d.seq.GetSequence(ctx, d.ID()); err != nil {
		return err
	}
	mid, err := sequence.SplitRange(own.NextNonce, own.MaxNonce)
	if err != nil {
		return fmt.Errorf("%w: %v", sequence.ErrExhausted, err)
	}
	payload, err := json.Marshal(authPayload{
		DriveID:      d.ID(),
		TargetAuthID: targetAuthID,
		Start:        mid,
		Max:          own.MaxNonce,
	})
	if err != nil {
		return err
	}
	if err := d.seq.SetMaxNonce(ctx, d.ID(), own.AuthID, mid); err != nil {
		return fmt.Errorf("failed to shrink nonce range: %w", err)
	}

	header, err := NewHeader(nonce, 0).MarshalBinary()
	if err != nil {
		return err
	}
	xf, err := NewTransformer(d.settings.Provider, encKey, nonce)
	if err != nil {
		return err
	}
	body := make([]byte, len(header)+len(payload))
	copy(body, header)
	xf.XORKeyStream(body[len(header):], payload, 0)
	body = append(body, authTag(macKey, body)...)

	h, err := dst.OpenWrite(true)
	if err != nil {
		return err
	}
	if _, err := h.WriteAt(body, 0); err != nil {
		h.Close()
		return NewIOError("write", dst.Path(), 0, err)
	}
	if err := h.Sync(); err != nil {
		h.Close()
		return NewIOError("sync", dst.Path(), -1, err)
	}
	if err := h.Close(); err != nil {
		return NewIOError("close", dst.Path(), -1, err)
	}
	d.log.WithFields(logrus.Fields{
		"target": targetAuthID,
		"start":  sequence.NonceToUint64(mid),
	}).Info("auth file exported")
	return nil
}

// ImportAuthFile activates this device's New sequence with the range carried
// by src. The file must be for this drive and this device's auth id.
func (d *Drive) ImportAuthFile(ctx context.Context, src RealFile) error {
	encKey, macKey, err := d.authKeys()
	if err != nil {
		return err
	}
	body, err := readAll(src)
	if err != nil {
		return err
	}
	if len(body) < HeaderSize+HashLength {
		return NewSecurityError(src.Path(), errors.New("auth file too short"))
	}
	signed, tag := body[:len(body)-HashLength], body[len(body)-HashLength:]
	if !hmac.Equal(tag, authTag(macKey, signed)) {
		return NewSecurityError(src.Path(), errors.New("auth file signature mismatch"))
	}
	header, err := ParseHeader(signed[:HeaderSize])
	if err != nil {
		return NewSecurityError(src.Path(), err)
	}
	xf, err := NewTransformer(d.settings.Provider, encKey, header.Nonce)
	if err != nil {
		return err
	}
	plain := make([]byte, len(signed)-HeaderSize)
	xf.XORKeyStream(plain, signed[HeaderSize:], 0)
	var p authPayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return NewSecurityError(src.Path(), fmt.Errorf("malformed auth file: %w", err))
	}
	if p.DriveID != d.ID() {
		return NewSecurityError(src.Path(), errors.New("auth file is for another drive"))
	}
	authID, err := d.AuthID(ctx)
	if err != nil {
		return err
	}
	if p.TargetAuthID != authID {
		return NewSecurityError(src.Path(), sequence.ErrAuthMismatch)
	}
	if err := d.seq.InitSequence(ctx, d.ID(), authID, p.Start, p.Max); err != nil {
		return err
	}
	d.log.WithField("auth", authID).Info("auth file imported")
	return nil
}

func readAll(f RealFile) ([]byte, error) {
	h, err := f.OpenRead()
	if err != nil {
		return nil, err
	}
	defer h.Close()
	size, err := h.Size()
	if err != nil {
		return nil, NewIOError("stat", f.Path(), -1, err)
	}
	buf := make([]byte, size)
	n, err := h.ReadAt(buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == size) {
		return nil, NewIOError("read", f.Path(), 0, err)
	}
	return buf, nil
}
