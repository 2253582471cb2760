package salmon

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

// memFile is a RandomAccessFile kept in memory. Close does not drop the data
// so a test can open a new stream over the same file.
type memFile struct {
	mu     sync.Mutex
	data   []byte
	syncs  int
	closes int
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	return copy(m.data[off:], p), nil
}

func (m *memFile) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *memFile) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
	} else {
		m.data = append(m.data, make([]byte, size-int64(len(m.data)))...)
	}
	return nil
}

func (m *memFile) Sync() error {
	m.mu.Lock()
	m.syncs++
	m.mu.Unlock()
	return nil
}

func (m *memFile) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return nil
}

func (m *memFile) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// testPattern returns n deterministic pseudo random bytes.
func testPattern(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeyLength)
}

// testSettings returns fast settings for drive tests.
func testSettings(chunkSize int) Settings {
	s := DefaultSettings()
	s.KDF = KDFParams{Algorithm: KDFPBKDF2SHA256, Iterations: 1000}
	s.ChunkSize = chunkSize
	s.Threads = 1
	return s
}

// newTestDrive creates a drive in a temporary directory on the local disk.
func newTestDrive(t *testing.T, settings Settings) (*Drive, sequence.Service) {
	t.Helper()
	root := NewRealFile(NewOSFileSystem(t.TempDir()), "/")
	seq := sequence.NewSequencer(sequence.NewMemoryStore(), nil)
	d, err := CreateDrive(context.Background(), root, []byte("password"), seq, DriveOptions{Settings: settings})
	if err != nil {
		t.Fatalf("CreateDrive failed: %v", err)
	}
	t.Cleanup(d.Close)
	return d, seq
}

// writeVirtual stores data in a new file called name under dir.
func writeVirtual(t *testing.T, dir *VirtualFile, name string, data []byte) *VirtualFile {
	t.Helper()
	ctx := context.Background()
	f, err := dir.CreateFile(ctx, name)
	if err != nil {
		t.Fatalf("CreateFile(%q) failed: %v", name, err)
	}
	out, err := f.OutputStream(ctx)
	if err != nil {
		t.Fatalf("OutputStream failed: %v", err)
	}
	if _, err := out.Write(data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return f
}

// readVirtual returns the decrypted content of f.
func readVirtual(t *testing.T, f *VirtualFile) []byte {
	t.Helper()
	in, err := f.InputStream()
	if err != nil {
		t.Fatalf("InputStream failed: %v", err)
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return data
}
