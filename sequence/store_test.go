package sequence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSequence() *Sequence {
	return &Sequence{
		ID:        "drive-a",
		AuthID:    "auth-a",
		NextNonce: []byte{0, 1, 2, 3, 4, 5, 6, 7},
		MaxNonce:  []byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb, 0xfa, 0xf9, 0xf8},
		Status:    StatusActive,
	}
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "drive-a")
	assert.ErrorIs(t, err, ErrNotFound)

	want := sampleSequence()
	require.NoError(t, store.Put(ctx, want))

	got, err := store.Get(ctx, "drive-a")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other := sampleSequence()
	other.ID = "drive-b"
	other.Status = StatusRevoked
	require.NoError(t, store.Put(ctx, other))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	want.NextNonce = []byte{9, 9, 9, 9, 9, 9, 9, 9}
	require.NoError(t, store.Put(ctx, want))
	got, err = store.Get(ctx, "drive-a")
	require.NoError(t, err)
	assert.Equal(t, want.NextNonce, got.NextNonce)

	require.NoError(t, store.Close())
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	testStore(t, NewFileStore(filepath.Join(t.TempDir(), "seq.json")))
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadgerStore("", nil)
	require.NoError(t, err)
	testStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "seq.db"))
	require.NoError(t, err)
	testStore(t, store)
}

func TestFileStore_RoundTripFormat(t *testing.T) {
	file := filepath.Join(t.TempDir(), "seq.json")
	store := NewFileStore(file)
	require.NoError(t, store.Put(context.Background(), sampleSequence()))

	raw, err := os.ReadFile(file)
	require.NoError(t, err)

	var env struct {
		Sequences map[string]map[string]any `json:"sequences"`
		Checksum  string                    `json:"checksum"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	entry := env.Sequences["drive-a"]
	assert.Equal(t, "AAECAwQFBgc=", entry["nextNonce"])
	assert.Equal(t, "Active", entry["status"])
	assert.Equal(t, "auth-a", entry["authId"])
	assert.Len(t, env.Checksum, 64)
}

func TestFileStore_Tampered(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "seq.json")
	s := NewSequencer(NewFileStore(file), nil)
	require.NoError(t, s.CreateSequence(ctx, "drive-a", "auth-a"))
	require.NoError(t, s.InitSequence(ctx, "drive-a", "auth-a", NonceFromUint64(100), NonceFromUint64(200)))

	// roll the counter back by hand
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &env))
	var seqs map[string]*Sequence
	require.NoError(t, json.Unmarshal(env["sequences"], &seqs))
	seqs["drive-a"].NextNonce = NonceFromUint64(0)
	env["sequences"], err = json.Marshal(seqs)
	require.NoError(t, err)
	raw, err = json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, raw, 0600))

	_, err = s.NextNonce(ctx, "drive-a")
	assert.ErrorIs(t, err, ErrTampered)
}

func TestFileStore_ReplaceIsDurable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "seq.json")
	store := NewFileStore(file)
	for i := uint64(1); i <= 3; i++ {
		seq := sampleSequence()
		seq.NextNonce = NonceFromUint64(i)
		require.NoError(t, store.Put(ctx, seq))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "seq.json", entries[0].Name())

	got, err := NewFileStore(file).Get(ctx, "drive-a")
	require.NoError(t, err)
	assert.Equal(t, NonceFromUint64(3), got.NextNonce)

	require.NoError(t, syncDir(dir))
	assert.Error(t, syncDir(filepath.Join(dir, "missing")))
}
