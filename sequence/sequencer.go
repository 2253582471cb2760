package sequence

import (
	"context"
	"encoding/hex"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sequencer is the in-process nonce allocator. All operations are serialized.
type Sequencer struct {
	mu    sync.Mutex
	store Store
	log   logrus.FieldLogger
}

var _ Service = (*Sequencer)(nil)

// NewSequencer creates a sequencer over store. A nil logger discards output.
func NewSequencer(store Store, log logrus.FieldLogger) *Sequencer {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Sequencer{store: store, log: log}
}

// Store returns the backing store.
func (s *Sequencer) Store() Store {
	return s.store
}

func (s *Sequencer) get(ctx context.Context, driveID string) (*Sequence, error) {
	seq, err := s.store.Get(ctx, driveID)
	if err != nil {
		if KindOf(err) == KindTampered {
			s.log.WithField("drive", driveID).Warn("sequence store failed checksum verification")
		}
		return nil, err
	}
	return seq, nil
}

// CreateSequence registers a New sequence for driveID. An existing sequence
// is only replaced if it was revoked.
func (s *Sequencer) CreateSequence(ctx context.Context, driveID, authID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, driveID)
	if err != nil && KindOf(err) != KindNotFound {
		return err
	}
	if existing != nil && existing.Status != StatusRevoked {
		return newError(KindExists, driveID, "")
	}
	seq := &Sequence{
		ID:        driveID,
		AuthID:    authID,
		NextNonce: NonceFromUint64(0),
		MaxNonce:  NonceFromUint64(0),
		Status:    StatusNew,
	}
	if err := s.store.Put(ctx, seq); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"drive": driveID, "auth": authID}).Info("sequence created")
	return nil
}

// InitSequence moves a New sequence to Active with the range [start, max].
func (s *Sequencer) InitSequence(ctx context.Context, driveID, authID string, start, max []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.get(ctx, driveID)
	if err != nil {
		return err
	}
	switch seq.Status {
	case StatusRevoked:
		return newError(KindRevoked, driveID, "")
	case StatusActive:
		return newError(KindExists, driveID, "sequence already active")
	}
	if seq.AuthID != authID {
		return newError(KindAuthMismatch, driveID, "")
	}
	if len(start) != NonceSize || len(max) != NonceSize || CompareNonce(start, max) > 0 {
		return newError(KindInvalidRange, driveID, "")
	}
	seq.NextNonce = append([]byte(nil), start...)
	seq.MaxNonce = append([]byte(nil), max...)
	seq.Status = StatusActive
	if err := s.store.Put(ctx, seq); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"drive": driveID,
		"start": hex.EncodeToString(start),
		"max":   hex.EncodeToString(max),
	}).Info("sequence initialized")
	return nil
}

// SetMaxNonce changes the upper bound of an Active sequence. The new bound may
// not fall below the next nonce to be issued nor exceed the current bound.
func (s *Sequencer) SetMaxNonce(ctx context.Context, driveID, authID string, max []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.get(ctx, driveID)
	if err != nil {
		return err
	}
	if err := checkActive(seq); err != nil {
		return err
	}
	if seq.AuthID != authID {
		return newError(KindAuthMismatch, driveID, "")
	}
	if len(max) != NonceSize || CompareNonce(max, seq.NextNonce) < 0 || CompareNonce(max, seq.MaxNonce) > 0 {
		return newError(KindInvalidRange, driveID, "")
	}
	seq.MaxNonce = append([]byte(nil), max...)
	if err := s.store.Put(ctx, seq); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"drive": driveID, "max": hex.EncodeToString(max)}).Info("sequence max nonce changed")
	return nil
}

// NextNonce returns the next unused nonce. The incremented value is persisted
// before the nonce is returned.
func (s *Sequencer) NextNonce(ctx context.Context, driveID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.get(ctx, driveID)
	if err != nil {
		return nil, err
	}
	if err := checkActive(seq); err != nil {
		return nil, err
	}
	next, err := IncrementNonce(seq.NextNonce)
	if err != nil || CompareNonce(next, seq.MaxNonce) > 0 {
		return nil, newError(KindExhausted, driveID, "")
	}
	nonce := seq.NextNonce
	seq.NextNonce = next
	if err := s.store.Put(ctx, seq); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"drive": driveID, "nonce": hex.EncodeToString(nonce)}).Debug("nonce issued")
	return nonce, nil
}

// RevokeSequence permanently disables the sequence.
func (s *Sequencer) RevokeSequence(ctx context.Context, driveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.get(ctx, driveID)
	if err != nil {
		return err
	}
	seq.Status = StatusRevoked
	if err := s.store.Put(ctx, seq); err != nil {
		return err
	}
	s.log.WithField("drive", driveID).Warn("sequence revoked")
	return nil
}

// GetSequence returns a copy of the stored sequence.
func (s *Sequencer) GetSequence(ctx context.Context, driveID string) (*Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, driveID)
}

func checkActive(seq *Sequence) error {
	switch seq.Status {
	case StatusActive:
		return nil
	case StatusRevoked:
		return newError(KindRevoked, seq.ID, "")
	default:
		return newError(KindNotActive, seq.ID, "")
	}
}
