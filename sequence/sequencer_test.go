package sequence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActive(t *testing.T, store Store, start, max uint64) *Sequencer {
	t.Helper()
	ctx := context.Background()
	s := NewSequencer(store, nil)
	require.NoError(t, s.CreateSequence(ctx, "drive1", "auth1"))
	require.NoError(t, s.InitSequence(ctx, "drive1", "auth1", NonceFromUint64(start), NonceFromUint64(max)))
	return s
}

func TestSequencer_NextNonceExhausts(t *testing.T) {
	ctx := context.Background()
	s := newActive(t, NewMemoryStore(), 1, 4)

	for _, want := range []uint64{1, 2, 3} {
		n, err := s.NextNonce(ctx, "drive1")
		require.NoError(t, err)
		assert.Equal(t, NonceFromUint64(want), n)
	}

	_, err := s.NextNonce(ctx, "drive1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, KindExhausted, KindOf(err))

	// still exhausted, never wraps
	_, err = s.NextNonce(ctx, "drive1")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSequencer_MaxValueNeverWraps(t *testing.T) {
	ctx := context.Background()
	max := ^uint64(0)
	s := newActive(t, NewMemoryStore(), max-1, max)

	n, err := s.NextNonce(ctx, "drive1")
	require.NoError(t, err)
	assert.Equal(t, NonceFromUint64(max-1), n)

	_, err = s.NextNonce(ctx, "drive1")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSequencer_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer(NewMemoryStore(), nil)

	_, err := s.NextNonce(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateSequence(ctx, "d", "a"))
	assert.ErrorIs(t, s.CreateSequence(ctx, "d", "a"), ErrExists)

	_, err = s.NextNonce(ctx, "d")
	assert.ErrorIs(t, err, ErrNotActive)

	assert.ErrorIs(t, s.InitSequence(ctx, "d", "other", NonceFromUint64(0), NonceFromUint64(10)), ErrAuthMismatch)
	assert.ErrorIs(t, s.InitSequence(ctx, "d", "a", NonceFromUint64(10), NonceFromUint64(1)), ErrInvalidRange)
	require.NoError(t, s.InitSequence(ctx, "d", "a", NonceFromUint64(0), NonceFromUint64(10)))
	assert.ErrorIs(t, s.InitSequence(ctx, "d", "a", NonceFromUint64(0), NonceFromUint64(10)), ErrExists)

	seq, err := s.GetSequence(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, seq.Status)

	require.NoError(t, s.RevokeSequence(ctx, "d"))
	_, err = s.NextNonce(ctx, "d")
	assert.ErrorIs(t, err, ErrRevoked)
	assert.ErrorIs(t, s.SetMaxNonce(ctx, "d", "a", NonceFromUint64(5)), ErrRevoked)
	assert.ErrorIs(t, s.InitSequence(ctx, "d", "a", NonceFromUint64(0), NonceFromUint64(10)), ErrRevoked)

	// a revoked sequence may be replaced by a new registration
	require.NoError(t, s.CreateSequence(ctx, "d", "b"))
	seq, err = s.GetSequence(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, StatusNew, seq.Status)
	assert.Equal(t, "b", seq.AuthID)
}

func TestSequencer_SetMaxNonce(t *testing.T) {
	ctx := context.Background()
	s := newActive(t, NewMemoryStore(), 0, 100)

	_, err := s.NextNonce(ctx, "drive1")
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetMaxNonce(ctx, "drive1", "auth1", NonceFromUint64(200)), ErrInvalidRange)
	assert.ErrorIs(t, s.SetMaxNonce(ctx, "drive1", "auth1", NonceFromUint64(0)), ErrInvalidRange)
	assert.ErrorIs(t, s.SetMaxNonce(ctx, "drive1", "nope", NonceFromUint64(50)), ErrAuthMismatch)
	require.NoError(t, s.SetMaxNonce(ctx, "drive1", "auth1", NonceFromUint64(50)))

	seq, err := s.GetSequence(ctx, "drive1")
	require.NoError(t, err)
	assert.Equal(t, NonceFromUint64(50), seq.MaxNonce)
	assert.Equal(t, NonceFromUint64(1), seq.NextNonce)
}

func TestSequencer_ConcurrentNoDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newActive(t, NewMemoryStore(), 0, 1<<20)

	const workers, per = 8, 100
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				n, err := s.NextNonce(ctx, "drive1")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[NonceToUint64(n)], "duplicate nonce")
				seen[NonceToUint64(n)] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
	for i := uint64(0); i < workers*per; i++ {
		assert.True(t, seen[i], "gap at %d", i)
	}
}

func TestSequencer_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "seq.json")
	s := newActive(t, NewFileStore(file), 7, 1000)

	n, err := s.NextNonce(ctx, "drive1")
	require.NoError(t, err)
	assert.Equal(t, NonceFromUint64(7), n)

	// a fresh sequencer over the same file continues where the last stopped
	s2 := NewSequencer(NewFileStore(file), nil)
	n, err = s2.NextNonce(ctx, "drive1")
	require.NoError(t, err)
	assert.Equal(t, NonceFromUint64(8), n)
}

func TestSplitRange(t *testing.T) {
	mid, err := SplitRange(NonceFromUint64(10), NonceFromUint64(20))
	require.NoError(t, err)
	assert.Equal(t, uint64(15), NonceToUint64(mid))

	_, err = SplitRange(NonceFromUint64(10), NonceFromUint64(11))
	assert.Error(t, err)
}

func TestIncrementNonce(t *testing.T) {
	n, err := IncrementNonce([]byte{0, 0, 0, 0, 0, 0, 0, 0xff})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, n)

	_, err = IncrementNonce(MaxNonce())
	assert.Error(t, err)

	assert.Equal(t, -1, CompareNonce([]byte{1}, []byte{0, 2}))
}
