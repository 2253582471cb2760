package salmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
)

// VirtualFile is a plaintext view of a file or directory inside a drive. The
// real name is the encrypted name; the plaintext name is decoded on demand.
type VirtualFile struct {
	drive *Drive
	real  RealFile
	root  bool
}

// Drive returns the drive the file belongs to.
func (f *VirtualFile) Drive() *Drive { return f.drive }

// RealFile returns the backing real file.
func (f *VirtualFile) RealFile() RealFile { return f.real }

// IsRoot reports whether f is the top level directory of the drive.
func (f *VirtualFile) IsRoot() bool { return f.root }

func (f *VirtualFile) Exists() bool      { return f.real.Exists() }
func (f *VirtualFile) IsDirectory() bool { return f.real.IsDirectory() }
func (f *VirtualFile) IsFile() bool      { return f.real.IsFile() }

// LastModified is in milliseconds since the Unix epoch.
func (f *VirtualFile) LastModified() int64 { return f.real.LastModified() }

// Name returns the decrypted name. Names that cannot be decoded return an
// error wrapping ErrBadName; the entry stays usable for Delete and Move.
func (f *VirtualFile) Name() (string, error) {
	if f.root {
		return "", nil
	}
	return f.drive.decryptName(f.real.Name())
}

// Path returns the slash separated plaintext path from the drive root.
func (f *VirtualFile) Path() (string, error) {
	if f.root {
		return "/", nil
	}
	name, err := f.Name()
	if err != nil {
		return "", err
	}
	parent := f.Parent()
	if parent == nil {
		return "/" + name, nil
	}
	dir, err := parent.Path()
	if err != nil {
		return "", err
	}
	return path.Join(dir, name), nil
}

// Parent returns the enclosing directory, or nil for the root.
func (f *VirtualFile) Parent() *VirtualFile {
	if f.root {
		return nil
	}
	p := f.real.Parent()
	if p == nil {
		return nil
	}
	return &VirtualFile{drive: f.drive, real: p, root: p.Path() == f.drive.content.Path()}
}

// Header reads the container header of a file.
func (f *VirtualFile) Header() (*Header, error) {
	if !f.real.IsFile() {
		return nil, NewIOError("header", f.real.Path(), -1, errors.New("not a file"))
	}
	h, err := f.real.OpenRead()
	if err != nil {
		return nil, err
	}
	defer h.Close()
	buf := make([]byte, HeaderSize)
	n, err := h.ReadAt(buf, 0)
	if n < HeaderSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, NewIOError("read", f.real.Path(), 0, err)
		}
		return nil, ErrInvalidHeader
	}
	return ParseHeader(buf)
}

// Size returns the plaintext size. Directories and empty files have size 0.
func (f *VirtualFile) Size() (int64, error) {
	if f.real.IsDirectory() {
		return 0, nil
	}
	realSize := f.real.Length()
	if realSize < HeaderSize {
		return 0, nil
	}
	header, err := f.Header()
	if err != nil {
		return 0, err
	}
	if !header.HasIntegrity() {
		return realSize - int64(header.Size()), nil
	}
	_, hashKey, err := f.drive.keys()
	if err != nil {
		return 0, err
	}
	in, err := NewIntegrity(hashKey, int(header.ChunkSize))
	if err != nil {
		return 0, err
	}
	return in.LogicalSize(realSize, int64(header.Size())), nil
}

// List returns the entries of a directory in real name order.
func (f *VirtualFile) List() ([]*VirtualFile, error) {
	if !f.real.IsDirectory() {
		return nil, NewIOError("list", f.real.Path(), -1, errors.New("not a directory"))
	}
	entries, err := f.real.List()
	if err != nil {
		return nil, err
	}
	files := make([]*VirtualFile, 0, len(entries))
	for _, e := range entries {
		if f.root && e.Name() == ConfigFileName {
			continue
		}
		files = append(files, &VirtualFile{drive: f.drive, real: e})
	}
	return files, nil
}

// Child returns the entry with the given plaintext name, or nil if there is
// none. Entries with undecodable names are skipped.
func (f *VirtualFile) Child(name string) (*VirtualFile, error) {
	files, err := f.List()
	if err != nil {
		return nil, err
	}
	for _, c := range files {
		n, err := c.Name()
		if errors.Is(err, ErrBadName) {
			continue
		} else if err != nil {
			return nil, err
		}
		if n == name {
			return c, nil
		}
	}
	return nil, nil
}

// Lookup resolves a slash separated plaintext path below f.
func (f *VirtualFile) Lookup(p string) (*VirtualFile, error) {
	if err := ValidateFilePath(p); err != nil {
		return nil, err
	}
	cur := f
	for _, elem := range splitPath(p) {
		next, err := cur.Child(elem)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}

func splitPath(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	var elems []string
	for p != "/" {
		elems = append([]string{path.Base(p)}, elems...)
		p = path.Dir(p)
	}
	return elems
}

func (f *VirtualFile) checkNewName(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	existing, err := f.Child(name)
	if err != nil {
		return err
	}
	if existing != nil {
		return NewIOError("create", f.real.Path(), -1, fmt.Errorf("%q already exists", name))
	}
	return nil
}

// CreateDirectory creates a subdirectory with an encrypted name.
func (f *VirtualFile) CreateDirectory(ctx context.Context, name string) (*VirtualFile, error) {
	if err := f.checkNewName(name); err != nil {
		return nil, err
	}
	enc, err := f.drive.encryptName(ctx, name)
	if err != nil {
		return nil, err
	}
	dir, err := f.real.CreateDirectory(enc)
	if err != nil {
		return nil, err
	}
	return &VirtualFile{drive: f.drive, real: dir}, nil
}

// CreateFile creates an empty file with an encrypted name. Content is written
// with OutputStream.
func (f *VirtualFile) CreateFile(ctx context.Context, name string) (*VirtualFile, error) {
	if err := f.checkNewName(name); err != nil {
		return nil, err
	}
	enc, err := f.drive.encryptName(ctx, name)
	if err != nil {
		return nil, err
	}
	file, err := f.real.CreateFile(enc)
	if err != nil {
		return nil, err
	}
	f.drive.log.WithField("file", file.Path()).Debug("file created")
	return &VirtualFile{drive: f.drive, real: file}, nil
}

// Delete removes the file, or the directory and everything below it.
func (f *VirtualFile) Delete() error {
	if f.root {
		return NewIOError("delete", f.real.Path(), -1, errors.New("cannot delete the drive root"))
	}
	if f.real.IsDirectory() {
		children, err := f.List()
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := c.Delete(); err != nil {
				return err
			}
		}
	}
	return f.real.Delete()
}

// Rename gives the entry a new plaintext name, encrypted with a fresh nonce.
func (f *VirtualFile) Rename(ctx context.Context, newName string) error {
	if f.root {
		return NewIOError("rename", f.real.Path(), -1, errors.New("cannot rename the drive root"))
	}
	if err := f.Parent().checkNewName(newName); err != nil {
		return err
	}
	enc, err := f.drive.encryptName(ctx, newName)
	if err != nil {
		return err
	}
	renamed, err := f.real.RenameTo(enc)
	if err != nil {
		return err
	}
	f.real = renamed
	return nil
}

// Move moves the entry into dir, keeping its encrypted name.
func (f *VirtualFile) Move(dir *VirtualFile) error {
	if f.root {
		return NewIOError("move", f.real.Path(), -1, errors.New("cannot move the drive root"))
	}
	if dir.drive != f.drive {
		return NewValidationError("dir", dir.real.Path(), "target belongs to another drive")
	}
	if name, err := f.Name(); err == nil {
		if err := dir.checkNewName(name); err != nil {
			return err
		}
	}
	moved, err := f.real.MoveTo(dir.real)
	if err != nil {
		return err
	}
	f.real = moved
	return nil
}

// InputStream opens a decrypting stream positioned at 0.
func (f *VirtualFile) InputStream() (*Stream, error) {
	driveKey, hashKey, err := f.drive.keys()
	if err != nil {
		return nil, err
	}
	h, err := f.real.OpenRead()
	if err != nil {
		return nil, err
	}
	s, err := NewStream(ModeDecrypt, h, StreamConfig{
		Key:      driveKey,
		HashKey:  hashKey,
		Provider: f.drive.settings.Provider,
		Path:     f.real.Path(),
	})
	if err != nil {
		h.Close()
		return nil, err
	}
	return s, nil
}

// OutputStream truncates the file and opens an encrypting stream under a
// fresh nonce. The chunk size comes from the drive config.
func (f *VirtualFile) OutputStream(ctx context.Context) (*Stream, error) {
	driveKey, hashKey, err := f.drive.keys()
	if err != nil {
		return nil, err
	}
	nonce, err := f.drive.NextNonce(ctx)
	if err != nil {
		return nil, err
	}
	h, err := f.real.OpenWrite(true)
	if err != nil {
		return nil, err
	}
	s, err := NewStream(ModeEncrypt, h, StreamConfig{
		Key:      driveKey,
		HashKey:  hashKey,
		Header:   NewHeader(nonce, uint32(f.drive.config.ChunkSize)),
		Provider: f.drive.settings.Provider,
		Path:     f.real.Path(),
	})
	if err != nil {
		h.Close()
		return nil, err
	}
	return s, nil
}
