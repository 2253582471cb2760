package sequence

import (
	"context"
	"sync"
)

// Store persists sequences. Put must be durable when it returns: the
// sequencer hands out a nonce only after Put succeeds.
type Store interface {
	// Get returns the stored sequence or an error of KindNotFound.
	Get(ctx context.Context, driveID string) (*Sequence, error)
	Put(ctx context.Context, seq *Sequence) error
	List(ctx context.Context) ([]*Sequence, error)
	Close() error
}

// MemoryStore keeps sequences in a map. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	seqs map[string]*Sequence
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seqs: make(map[string]*Sequence)}
}

func (m *MemoryStore) Get(_ context.Context, driveID string) (*Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seqs[driveID]
	if !ok {
		return nil, newError(KindNotFound, driveID, "")
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, seq *Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[seq.ID] = seq.Clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Sequence, 0, len(m.seqs))
	for _, s := range m.seqs {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
