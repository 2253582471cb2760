package sequence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// fileEnvelope is the on-disk layout of a FileStore.
type fileEnvelope struct {
	Sequences map[string]*Sequence `json:"sequences"`
	Checksum  string               `json:"checksum"`
}

// FileStore keeps all sequences of a device in one JSON file. The file
// carries a SHA-256 checksum of its sequence table; a mismatch on load means
// the file was edited outside the sequencer and every read fails with
// KindTampered.
type FileStore struct {
	mu       sync.Mutex
	filename string
}

// NewFileStore returns a store backed by filename. The file is created on the
// first Put.
func NewFileStore(filename string) *FileStore {
	return &FileStore{filename: filename}
}

func checksum(seqs map[string]*Sequence) (string, error) {
	keys := make([]string, 0, len(seqs))
	for k := range seqs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		js, err := json.Marshal(seqs[k])
		if err != nil {
			return "", err
		}
		h.Write(js)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f *FileStore) load() (map[string]*Sequence, error) {
	js, err := os.ReadFile(f.filename)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]*Sequence), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence file: %w", err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(js, &env); err != nil {
		return nil, &Error{Kind: KindTampered, Message: "sequence file is not valid JSON", Err: err}
	}
	if env.Sequences == nil {
		env.Sequences = make(map[string]*Sequence)
	}
	sum, err := checksum(env.Sequences)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, newError(KindTampered, "", "")
	}
	return env.Sequences, nil
}

// save writes to a temporary file, syncs it, renames it over the old one and
// syncs the directory so the rename survives a crash.
func (f *FileStore) save(seqs map[string]*Sequence) error {
	sum, err := checksum(seqs)
	if err != nil {
		return err
	}
	js, err := json.MarshalIndent(fileEnvelope{Sequences: seqs, Checksum: sum}, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')
	tmp := f.filename + ".tmp"
	fd, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create sequence file: %w", err)
	}
	if _, err := fd.Write(js); err != nil {
		fd.Close()
		return fmt.Errorf("failed to write sequence file: %w", err)
	}
	if err := fd.Sync(); err != nil {
		fd.Close()
		return fmt.Errorf("failed to sync sequence file: %w", err)
	}
	if err := fd.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.filename); err != nil {
		return fmt.Errorf("failed to replace sequence file: %w", err)
	}
	return syncDir(filepath.Dir(f.filename))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open sequence directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync sequence directory: %w", err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, driveID string) (*Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs, err := f.load()
	if err != nil {
		return nil, err
	}
	s, ok := seqs[driveID]
	if !ok {
		return nil, newError(KindNotFound, driveID, "")
	}
	return s, nil
}

func (f *FileStore) Put(_ context.Context, seq *Sequence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs, err := f.load()
	if err != nil {
		return err
	}
	seqs[seq.ID] = seq.Clone()
	return f.save(seqs)
}

func (f *FileStore) List(_ context.Context) ([]*Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Sequence, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FileStore) Close() error { return nil }
