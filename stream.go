package salmon

import (
	"errors"
	"io"
	"sync/atomic"
)

// RandomAccessFile is a positioned handle on a real file. Concurrent ReadAt
// and WriteAt calls on distinct ranges must be safe.
type RandomAccessFile interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// sharedHandle is a reference counted RandomAccessFile shared by a stream
// and its clones.
type sharedHandle struct {
	f    RandomAccessFile
	refs atomic.Int32
}

func newSharedHandle(f RandomAccessFile) *sharedHandle {
	h := &sharedHandle{f: f}
	h.refs.Store(1)
	return h
}

func (h *sharedHandle) acquire() {
	h.refs.Add(1)
}

// release closes the file when the last reference is dropped.
func (h *sharedHandle) release(sync bool) error {
	if h.refs.Add(-1) != 0 {
		return nil
	}
	var err error
	if sync {
		err = h.f.Sync()
	}
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// StreamConfig carries the key material and container header for NewStream.
type StreamConfig struct {
	Key []byte
	// HashKey is required when the header enables integrity
	HashKey []byte
	// Header must be set for ModeEncrypt. For ModeDecrypt a nil Header is
	// read from the start of the file.
	Header   *Header
	Provider ProviderType
	// Path is only used in error messages
	Path string
}

// Stream is a seekable AES-256-CTR stream over one container file.
//
// A Stream is not safe for concurrent use. Use Clone to get an independent
// cursor over the same handle for another goroutine.
type Stream struct {
	mode      Mode
	h         *sharedHandle
	header    *Header
	headerLen int64
	xf        Transformer
	integrity *Integrity
	path      string
	pos       int64
	closed    bool

	// verified plaintext of chunk cacheIdx
	cacheIdx int64
	cache    []byte
	raw      []byte

	// pending plaintext of chunk wIdx
	wIdx   int64
	wBuf   []byte
	wDirty bool
	// wFresh means the buffer started at offset 0 of the chunk and existing
	// content past its end has not been merged yet
	wFresh bool
}

// NewStream creates a stream over f. In ModeEncrypt the header is written at
// offset 0. On success the stream owns f and closes it on Close.
func NewStream(mode Mode, f RandomAccessFile, cfg StreamConfig) (*Stream, error) {
	header := cfg.Header
	if header == nil {
		if mode == ModeEncrypt {
			return nil, NewValidationError("header", nil, "header is required for encryption")
		}
		buf := make([]byte, HeaderSize)
		n, err := f.ReadAt(buf, 0)
		if n < HeaderSize {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, NewIOError("read", cfg.Path, 0, err)
			}
			return nil, ErrInvalidHeader
		}
		if header, err = ParseHeader(buf); err != nil {
			return nil, err
		}
	} else if err := header.Validate(); err != nil {
		return nil, err
	}

	xf, err := NewTransformer(cfg.Provider, cfg.Key, header.Nonce)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		mode:      mode,
		header:    header,
		headerLen: int64(header.Size()),
		xf:        xf,
		path:      cfg.Path,
		cacheIdx:  -1,
	}
	if header.HasIntegrity() {
		if s.integrity, err = NewIntegrity(cfg.HashKey, int(header.ChunkSize)); err != nil {
			return nil, err
		}
	}
	if mode == ModeEncrypt {
		hb, err := header.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if _, err := f.WriteAt(hb, 0); err != nil {
			return nil, NewIOError("write", cfg.Path, 0, err)
		}
	}
	s.h = newSharedHandle(f)
	return s, nil
}

// Header returns the container header.
func (s *Stream) Header() *Header {
	return s.header
}

// Position returns the logical cursor.
func (s *Stream) Position() int64 {
	return s.pos
}

// Size returns the logical (plaintext) size, including buffered writes.
func (s *Stream) Size() (int64, error) {
	realSize, err := s.h.f.Size()
	if err != nil {
		return 0, NewIOError("stat", s.path, -1, err)
	}
	var size int64
	if s.integrity != nil {
		size = s.integrity.LogicalSize(realSize, s.headerLen)
	} else if realSize > s.headerLen {
		size = realSize - s.headerLen
	}
	if s.wDirty {
		if end := s.wIdx*s.integrity.ChunkSize() + int64(len(s.wBuf)); end > size {
			size = end
		}
	}
	return size, nil
}

// Seek sets the cursor. Seeking is O(1): the counter of any offset is
// computed directly.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		size, err := s.Size()
		if err != nil {
			return 0, err
		}
		abs = size + offset
	default:
		return 0, NewValidationError("whence", whence, "invalid whence")
	}
	if err := ValidateOffset(abs, "offset"); err != nil {
		return 0, err
	}
	s.pos = abs
	return abs, nil
}

// Read decrypts into p. With integrity enabled every chunk touched is fully
// read and verified before any of its bytes are copied out; on a tag mismatch
// Read returns the bytes of the preceding verified chunks and an
// *IntegrityError.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.flushPending(); err != nil {
		return 0, err
	}
	size, err := s.Size()
	if err != nil {
		return 0, err
	}
	if s.pos >= size {
		return 0, s.eof()
	}
	n := int64(len(p))
	if rem := size - s.pos; rem < n {
		n = rem
	}

	if s.integrity == nil {
		off := s.headerLen + s.pos
		read, err := s.h.f.ReadAt(p[:n], off)
		if err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
			return 0, NewIOError("read", s.path, off, err)
		}
		s.xf.XORKeyStream(p[:read], p[:read], s.pos)
		s.pos += int64(read)
		return read, nil
	}

	cs := s.integrity.ChunkSize()
	total := int64(0)
	for total < n {
		idx := s.pos / cs
		chunk, err := s.loadChunk(idx)
		if err != nil {
			return int(total), err
		}
		off := s.pos - idx*cs
		if off >= int64(len(chunk)) {
			break
		}
		c := int64(copy(p[total:n], chunk[off:]))
		total += c
		s.pos += c
	}
	return int(total), nil
}

// eof returns io.EOF, or an *IntegrityError when the file ends in a chunk cut
// off inside its tag.
func (s *Stream) eof() error {
	if s.integrity == nil || s.wDirty {
		return io.EOF
	}
	realSize, err := s.h.f.Size()
	if err != nil {
		return NewIOError("stat", s.path, -1, err)
	}
	if idx, ok := s.integrity.TruncatedChunk(realSize, s.headerLen); ok {
		return &IntegrityError{Path: s.path, ChunkIdx: idx, Message: "truncated chunk"}
	}
	return io.EOF
}

// ReadAt reads len(p) bytes at logical offset off. The cursor is unchanged.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if err := ValidateBuffer(p, "buffer", 0); err != nil {
		return 0, err
	}
	if err := ValidateOffset(off, "offset"); err != nil {
		return 0, err
	}
	saved := s.pos
	defer func() { s.pos = saved }()
	s.pos = off
	total := 0
	for total < len(p) {
		n, err := s.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// loadChunk reads, verifies and decrypts chunk idx.
func (s *Stream) loadChunk(idx int64) ([]byte, error) {
	if s.cacheIdx == idx && s.cache != nil {
		return s.cache, nil
	}
	cs := s.integrity.ChunkSize()
	if s.raw == nil {
		s.raw = make([]byte, HashLength+cs)
	}
	off := s.integrity.ChunkOffset(idx, s.headerLen)
	n, err := s.h.f.ReadAt(s.raw, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, NewIOError("read", s.path, off, err)
	}
	if n <= HashLength {
		return nil, &IntegrityError{Path: s.path, ChunkIdx: idx, Message: "truncated chunk"}
	}
	tag, ct := s.raw[:HashLength], s.raw[HashLength:n]
	if !VerifyChunkHash(s.integrity.hashKey, s.header.Nonce, uint64(idx), ct, tag) {
		return nil, &IntegrityError{Path: s.path, ChunkIdx: idx, Message: "chunk tag mismatch"}
	}
	pt := make([]byte, len(ct))
	s.xf.XORKeyStream(pt, ct, idx*cs)
	s.cacheIdx, s.cache = idx, pt
	return pt, nil
}

// existingChunk returns the verified plaintext of chunk idx if it is present
// in the real file, or nil.
func (s *Stream) existingChunk(idx int64) ([]byte, error) {
	realSize, err := s.h.f.Size()
	if err != nil {
		return nil, NewIOError("stat", s.path, -1, err)
	}
	if s.integrity.ChunkOffset(idx, s.headerLen)+HashLength >= realSize {
		return nil, nil
	}
	return s.loadChunk(idx)
}

// Write encrypts p at the cursor. Without integrity the ciphertext goes
// straight to the file. With integrity the current chunk is buffered and
// written with its tag once the cursor leaves it, or on Flush and Close.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.mode != ModeEncrypt {
		return 0, ErrReadOnly
	}
	if s.integrity == nil {
		ct := make([]byte, len(p))
		s.xf.XORKeyStream(ct, p, s.pos)
		off := s.headerLen + s.pos
		n, err := s.h.f.WriteAt(ct, off)
		s.pos += int64(n)
		if err != nil {
			return n, NewIOError("write", s.path, off, err)
		}
		return n, nil
	}

	cs := s.integrity.ChunkSize()
	written := 0
	for written < len(p) {
		idx := s.pos / cs
		off := s.pos - idx*cs
		if s.wDirty && s.wIdx != idx {
			if err := s.flushPending(); err != nil {
				return written, err
			}
		}
		if !s.wDirty {
			if err := s.beginChunk(idx, off); err != nil {
				return written, err
			}
		}
		n := int64(len(p) - written)
		if n > cs-off {
			n = cs - off
		}
		if end := off + n; int64(len(s.wBuf)) < end {
			s.wBuf = append(s.wBuf, make([]byte, end-int64(len(s.wBuf)))...)
		}
		copy(s.wBuf[off:off+n], p[written:])
		written += int(n)
		s.pos += n
		if s.pos == (idx+1)*cs {
			if err := s.flushPending(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (s *Stream) beginChunk(idx, off int64) error {
	s.wBuf = s.wBuf[:0]
	s.wFresh = off == 0
	if off > 0 {
		existing, err := s.existingChunk(idx)
		if err != nil {
			return err
		}
		s.wBuf = append(s.wBuf, existing...)
	}
	s.wIdx = idx
	s.wDirty = true
	return nil
}

// flushPending tags and writes the buffered chunk.
func (s *Stream) flushPending() error {
	if !s.wDirty {
		return nil
	}
	cs := s.integrity.ChunkSize()
	idx := s.wIdx
	if s.wFresh && int64(len(s.wBuf)) < cs {
		existing, err := s.existingChunk(idx)
		if err != nil {
			return err
		}
		if len(existing) > len(s.wBuf) {
			s.wBuf = append(s.wBuf, existing[len(s.wBuf):]...)
		}
	}
	out := make([]byte, HashLength+len(s.wBuf))
	ct := out[HashLength:]
	s.xf.XORKeyStream(ct, s.wBuf, idx*cs)
	copy(out, ComputeChunkHash(s.integrity.hashKey, s.header.Nonce, uint64(idx), ct))
	off := s.integrity.ChunkOffset(idx, s.headerLen)
	if _, err := s.h.f.WriteAt(out, off); err != nil {
		return NewIOError("write", s.path, off, err)
	}
	s.cacheIdx, s.cache = idx, append([]byte(nil), s.wBuf...)
	s.wDirty, s.wFresh = false, false
	s.wBuf = s.wBuf[:0]
	return nil
}

// Flush writes any buffered chunk.
func (s *Stream) Flush() error {
	if s.closed {
		return ErrClosed
	}
	return s.flushPending()
}

// Clone returns a stream with its own cursor and buffers over the same file
// handle, positioned where s is. The handle is closed when the last of the
// streams sharing it is closed.
func (s *Stream) Clone() (*Stream, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.flushPending(); err != nil {
		return nil, err
	}
	s.h.acquire()
	return &Stream{
		mode:      s.mode,
		h:         s.h,
		header:    s.header,
		headerLen: s.headerLen,
		xf:        s.xf,
		integrity: s.integrity,
		path:      s.path,
		pos:       s.pos,
		cacheIdx:  -1,
	}, nil
}

// Close flushes buffered data and releases the file handle.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	err := s.flushPending()
	s.closed = true
	s.cache, s.raw, s.wBuf = nil, nil, nil
	if rerr := s.h.release(s.mode == ModeEncrypt); err == nil {
		err = rerr
	}
	return err
}
