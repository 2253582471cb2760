package salmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync/atomic"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sirupsen/logrus"
)

// CommanderOptions configures a Commander. Zero values fall back to the
// drive settings.
type CommanderOptions struct {
	// Threads is the number of partitions per file
	Threads int
	// BufferSize is the copy buffer of each partition
	BufferSize int
	// Exclude holds gitignore style patterns matched against paths
	// relative to each source root
	Exclude []string
	// OnProgress may be called concurrently from partition goroutines
	OnProgress func(path string, done, total int64)
	Logger     logrus.FieldLogger
}

// FileFailure records why one file of a batch failed.
type FileFailure struct {
	Path string
	Err  error
}

// BatchResult lists the outcome of every file in a batch.
type BatchResult struct {
	Succeeded []string
	Failed    []FileFailure
	// Skipped lists excluded paths
	Skipped []string
}

// Err returns the first failure, or nil.
func (r *BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	f := r.Failed[0]
	return fmt.Errorf("%s: %w", f.Path, f.Err)
}

func (r *BatchResult) fail(p string, err error) {
	r.Failed = append(r.Failed, FileFailure{Path: p, Err: err})
}

// Commander imports, exports and copies files in bulk. Each file is split in
// partitions handled by separate goroutines with their own stream cursors.
type Commander struct {
	drive      *Drive
	threads    int
	bufferSize int
	exclude    *ignore.GitIgnore
	onProgress func(string, int64, int64)
	log        logrus.FieldLogger
	cancelled  atomic.Bool
}

// NewCommander returns a Commander working on d.
func NewCommander(d *Drive, opts CommanderOptions) *Commander {
	c := &Commander{
		drive:      d,
		threads:    opts.Threads,
		bufferSize: opts.BufferSize,
		onProgress: opts.OnProgress,
		log:        opts.Logger,
	}
	if c.threads <= 0 {
		c.threads = d.settings.threads()
	}
	if c.bufferSize <= 0 {
		c.bufferSize = d.settings.bufferSize()
	}
	if c.log == nil {
		c.log = d.log
	}
	if len(opts.Exclude) > 0 {
		c.exclude = ignore.CompileIgnoreLines(opts.Exclude...)
	}
	return c
}

// Cancel stops the running batch. Partitions stop between buffers; files
// not finished are reported with ErrCancelled.
func (c *Commander) Cancel() {
	c.cancelled.Store(true)
}

func (c *Commander) checkCancel(ctx context.Context) error {
	if c.cancelled.Load() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

func (c *Commander) excluded(rel string) bool {
	return c.exclude != nil && c.exclude.MatchesPath(rel)
}

// ImportFiles encrypts sources into the virtual directory dst. Directories
// are imported recursively.
func (c *Commander) ImportFiles(ctx context.Context, sources []RealFile, dst *VirtualFile) (*BatchResult, error) {
	c.cancelled.Store(false)
	res := &BatchResult{}
	for _, src := range sources {
		if err := c.importEntry(ctx, src, dst, src.Name(), res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Commander) importEntry(ctx context.Context, src RealFile, dst *VirtualFile, rel string, res *BatchResult) error {
	if err := c.checkCancel(ctx); err != nil {
		res.fail(src.Path(), err)
		return err
	}
	if c.excluded(rel) {
		res.Skipped = append(res.Skipped, src.Path())
		return nil
	}
	if !src.IsDirectory() {
		if err := c.importFile(ctx, src, dst); err != nil {
			res.fail(src.Path(), err)
			if errors.Is(err, ErrCancelled) {
				return err
			}
			return nil
		}
		res.Succeeded = append(res.Succeeded, src.Path())
		return nil
	}

	dir, err := dst.Child(src.Name())
	if err == nil && dir == nil {
		dir, err = dst.CreateDirectory(ctx, src.Name())
	}
	if err != nil {
		res.fail(src.Path(), err)
		return nil
	}
	children, err := src.List()
	if err != nil {
		res.fail(src.Path(), err)
		return nil
	}
	for _, child := range children {
		if err := c.importEntry(ctx, child, dir, path.Join(rel, child.Name()), res); err != nil {
			return err
		}
	}
	return nil
}

func (c *Commander) importFile(ctx context.Context, src RealFile, dst *VirtualFile) (err error) {
	size := src.Length()
	target, err := dst.CreateFile(ctx, src.Name())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if derr := target.Delete(); derr != nil {
				c.log.WithError(derr).WithField("file", target.real.Path()).Warn("cannot remove partial file")
			}
		}
	}()

	in, err := src.OpenRead()
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := target.OutputStream(ctx)
	if err != nil {
		return err
	}

	err = c.transfer(ctx, src.Path(), size, chunkAlign(out.Header()), func(p partition) (io.Reader, io.Writer, io.Closer, error) {
		s, err := out.Clone()
		if err != nil {
			return nil, nil, nil, err
		}
		if _, err := s.Seek(p.Start, io.SeekStart); err != nil {
			s.Close()
			return nil, nil, nil, err
		}
		return io.NewSectionReader(in, p.Start, p.Length), s, s, nil
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return checkSize(target.Size, size)
}

// ExportFiles decrypts sources into the real directory dst. Directories are
// exported recursively.
func (c *Commander) ExportFiles(ctx context.Context, sources []*VirtualFile, dst RealFile) (*BatchResult, error) {
	c.cancelled.Store(false)
	res := &BatchResult{}
	for _, src := range sources {
		name, err := src.Name()
		if err != nil {
			res.fail(src.real.Path(), err)
			continue
		}
		if err := c.exportEntry(ctx, src, dst, name, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Commander) exportEntry(ctx context.Context, src *VirtualFile, dst RealFile, rel string, res *BatchResult) error {
	vpath, err := src.Path()
	if err != nil {
		res.fail(src.real.Path(), err)
		return nil
	}
	if err := c.checkCancel(ctx); err != nil {
		res.fail(vpath, err)
		return err
	}
	if c.excluded(rel) {
		res.Skipped = append(res.Skipped, vpath)
		return nil
	}
	name := path.Base(rel)
	if !src.IsDirectory() {
		if err := c.exportFile(ctx, src, dst, name); err != nil {
			res.fail(vpath, err)
			if errors.Is(err, ErrCancelled) {
				return err
			}
			return nil
		}
		res.Succeeded = append(res.Succeeded, vpath)
		return nil
	}

	dir := dst.Child(name)
	if !dir.IsDirectory() {
		if dir, err = dst.CreateDirectory(name); err != nil {
			res.fail(vpath, err)
			return nil
		}
	}
	children, err := src.List()
	if err != nil {
		res.fail(vpath, err)
		return nil
	}
	for _, child := range children {
		childName, err := child.Name()
		if err != nil {
			res.fail(child.real.Path(), err)
			continue
		}
		if err := c.exportEntry(ctx, child, dir, path.Join(rel, childName), res); err != nil {
			return err
		}
	}
	return nil
}

func (c *Commander) exportFile(ctx context.Context, src *VirtualFile, dst RealFile, name string) (err error) {
	in, err := src.InputStream()
	if err != nil {
		return err
	}
	defer in.Close()
	size, err := in.Size()
	if err != nil {
		return err
	}

	target, err := dst.CreateFile(name)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if derr := target.Delete(); derr != nil {
				c.log.WithError(derr).WithField("file", target.Path()).Warn("cannot remove partial file")
			}
		}
	}()
	out, err := target.OpenWrite(true)
	if err != nil {
		return err
	}
	if err := out.Truncate(size); err != nil {
		out.Close()
		return NewIOError("truncate", target.Path(), size, err)
	}

	vpath, _ := src.Path()
	err = c.transfer(ctx, vpath, size, chunkAlign(in.Header()), func(p partition) (io.Reader, io.Writer, io.Closer, error) {
		s, err := in.Clone()
		if err != nil {
			return nil, nil, nil, err
		}
		if _, err := s.Seek(p.Start, io.SeekStart); err != nil {
			s.Close()
			return nil, nil, nil, err
		}
		return s, io.NewOffsetWriter(out, p.Start), s, nil
	})
	if serr := out.Sync(); err == nil && serr != nil {
		err = NewIOError("sync", target.Path(), -1, serr)
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = NewIOError("close", target.Path(), -1, cerr)
	}
	if err != nil {
		return err
	}
	return checkSize(func() (int64, error) { return target.Length(), nil }, size)
}

// CopyFiles re-encrypts sources into the virtual directory dst. Every copy
// gets a fresh nonce.
func (c *Commander) CopyFiles(ctx context.Context, sources []*VirtualFile, dst *VirtualFile) (*BatchResult, error) {
	c.cancelled.Store(false)
	res := &BatchResult{}
	for _, src := range sources {
		name, err := src.Name()
		if err != nil {
			res.fail(src.real.Path(), err)
			continue
		}
		if err := c.copyEntry(ctx, src, dst, name, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Commander) copyEntry(ctx context.Context, src, dst *VirtualFile, rel string, res *BatchResult) error {
	vpath, err := src.Path()
	if err != nil {
		res.fail(src.real.Path(), err)
		return nil
	}
	if err := c.checkCancel(ctx); err != nil {
		res.fail(vpath, err)
		return err
	}
	if c.excluded(rel) {
		res.Skipped = append(res.Skipped, vpath)
		return nil
	}
	name := path.Base(rel)
	if !src.IsDirectory() {
		if err := c.copyFile(ctx, src, dst, name, vpath); err != nil {
			res.fail(vpath, err)
			if errors.Is(err, ErrCancelled) {
				return err
			}
			return nil
		}
		res.Succeeded = append(res.Succeeded, vpath)
		return nil
	}

	dir, err := dst.Child(name)
	if err == nil && dir == nil {
		dir, err = dst.CreateDirectory(ctx, name)
	}
	if err != nil {
		res.fail(vpath, err)
		return nil
	}
	children, err := src.List()
	if err != nil {
		res.fail(vpath, err)
		return nil
	}
	for _, child := range children {
		childName, err := child.Name()
		if err != nil {
			res.fail(child.real.Path(), err)
			continue
		}
		if err := c.copyEntry(ctx, child, dir, path.Join(rel, childName), res); err != nil {
			return err
		}
	}
	return nil
}

func (c *Commander) copyFile(ctx context.Context, src, dst *VirtualFile, name, vpath string) (err error) {
	in, err := src.InputStream()
	if err != nil {
		return err
	}
	defer in.Close()
	size, err := in.Size()
	if err != nil {
		return err
	}
	target, err := dst.CreateFile(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if derr := target.Delete(); derr != nil {
				c.log.WithError(derr).WithField("file", target.real.Path()).Warn("cannot remove partial file")
			}
		}
	}()
	out, err := target.OutputStream(ctx)
	if err != nil {
		return err
	}

	align := lcm(chunkAlign(in.Header()), chunkAlign(out.Header()))
	err = c.transfer(ctx, vpath, size, align, func(p partition) (io.Reader, io.Writer, io.Closer, error) {
		r, err := in.Clone()
		if err != nil {
			return nil, nil, nil, err
		}
		w, err := out.Clone()
		if err != nil {
			r.Close()
			return nil, nil, nil, err
		}
		if _, err := r.Seek(p.Start, io.SeekStart); err != nil {
			r.Close()
			w.Close()
			return nil, nil, nil, err
		}
		if _, err := w.Seek(p.Start, io.SeekStart); err != nil {
			r.Close()
			w.Close()
			return nil, nil, nil, err
		}
		return r, w, closers{w, r}, nil
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return checkSize(target.Size, size)
}

type closers []io.Closer

func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openPartition returns the reader and writer of one partition and what to
// close once the partition is done.
type openPartition func(p partition) (io.Reader, io.Writer, io.Closer, error)

// transfer copies size bytes with one goroutine per partition. Partition
// streams are opened up front since streams are cloned from one goroutine.
func (c *Commander) transfer(ctx context.Context, p string, size, align int64, open openPartition) error {
	parts := splitPartitions(size, c.threads, align)
	readers := make([]io.Reader, len(parts))
	writers := make([]io.Writer, len(parts))
	var toClose closers
	defer func() { toClose.Close() }()
	for i, part := range parts {
		r, w, cl, err := open(part)
		if err != nil {
			return err
		}
		readers[i], writers[i] = r, w
		toClose = append(toClose, cl)
	}

	log := c.log.WithFields(logrus.Fields{"file": p, "partitions": len(parts)})
	log.Debug("transfer started")
	var done atomic.Int64
	err := runPartitions(parts, c.threads, func(part partition) error {
		return c.copyRange(ctx, p, readers[part.Index], writers[part.Index], part.Length, &done, size)
	})
	cerr := toClose.Close()
	toClose = nil
	if err == nil {
		err = cerr
	}
	if err != nil {
		log.WithError(err).Warn("transfer failed")
		return err
	}
	if n := done.Load(); n != size {
		return fmt.Errorf("%w: %d of %d bytes", ErrSizeMismatch, n, size)
	}
	log.Debug("transfer finished")
	return nil
}

func (c *Commander) copyRange(ctx context.Context, p string, r io.Reader, w io.Writer, length int64, done *atomic.Int64, total int64) error {
	buf := make([]byte, c.bufferSize)
	for length > 0 {
		if err := c.checkCancel(ctx); err != nil {
			return err
		}
		n := int64(len(buf))
		if length < n {
			n = length
		}
		read, err := io.ReadFull(r, buf[:n])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return werr
			}
			length -= int64(read)
			d := done.Add(int64(read))
			if c.onProgress != nil {
				c.onProgress(p, d, total)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func chunkAlign(h *Header) int64 {
	if h != nil && h.HasIntegrity() {
		return int64(h.ChunkSize)
	}
	return BlockSize
}

func lcm(a, b int64) int64 {
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}

func checkSize(actual func() (int64, error), want int64) error {
	got, err := actual()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, got, want)
	}
	return nil
}
