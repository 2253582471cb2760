package salmon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/absfs/absfs"
)

// RealFile is the capability surface the encrypted layer needs from a backing
// store. Local disk, memory and remote stores are adapters behind it.
type RealFile interface {
	Name() string
	Path() string
	Exists() bool
	IsDirectory() bool
	IsFile() bool
	// Length is the size in bytes, 0 for directories and missing files
	Length() int64
	// LastModified is in milliseconds since the Unix epoch
	LastModified() int64
	List() ([]RealFile, error)
	Parent() RealFile
	Child(name string) RealFile
	CreateDirectory(name string) (RealFile, error)
	CreateFile(name string) (RealFile, error)
	Delete() error
	// RenameTo renames within the same parent and returns the new file
	RenameTo(newName string) (RealFile, error)
	// MoveTo moves the file into dir keeping its name
	MoveTo(dir RealFile) (RealFile, error)
	OpenRead() (RandomAccessFile, error)
	// OpenWrite opens for read and write, creating the file if needed
	OpenWrite(truncate bool) (RandomAccessFile, error)
}

// FSFile is a RealFile on an absfs.FileSystem.
type FSFile struct {
	fs   absfs.FileSystem
	path string
}

// NewRealFile returns the file at p (slash separated, absolute) on fsys.
func NewRealFile(fsys absfs.FileSystem, p string) *FSFile {
	return &FSFile{fs: fsys, path: path.Clean("/" + p)}
}

func (f *FSFile) Name() string {
	if f.path == "/" {
		return ""
	}
	return path.Base(f.path)
}

func (f *FSFile) Path() string { return f.path }

func (f *FSFile) stat() os.FileInfo {
	info, err := f.fs.Stat(f.path)
	if err != nil {
		return nil
	}
	return info
}

func (f *FSFile) Exists() bool { return f.stat() != nil }

func (f *FSFile) IsDirectory() bool {
	info := f.stat()
	return info != nil && info.IsDir()
}

func (f *FSFile) IsFile() bool {
	info := f.stat()
	return info != nil && !info.IsDir()
}

func (f *FSFile) Length() int64 {
	info := f.stat()
	if info == nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

func (f *FSFile) LastModified() int64 {
	info := f.stat()
	if info == nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

func (f *FSFile) List() ([]RealFile, error) {
	dir, err := f.fs.Open(f.path)
	if err != nil {
		return nil, NewIOError("open", f.path, -1, err)
	}
	defer dir.Close()
	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, NewIOError("list", f.path, -1, err)
	}
	sort.Strings(names)
	out := make([]RealFile, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		out = append(out, f.Child(name))
	}
	return out, nil
}

func (f *FSFile) Parent() RealFile {
	if f.path == "/" {
		return nil
	}
	return &FSFile{fs: f.fs, path: path.Dir(f.path)}
}

func (f *FSFile) Child(name string) RealFile {
	return &FSFile{fs: f.fs, path: path.Join(f.path, name)}
}

func (f *FSFile) CreateDirectory(name string) (RealFile, error) {
	child := f.Child(name).(*FSFile)
	if err := f.fs.Mkdir(child.path, 0755); err != nil {
		return nil, NewIOError("mkdir", child.path, -1, err)
	}
	return child, nil
}

func (f *FSFile) CreateFile(name string) (RealFile, error) {
	child := f.Child(name).(*FSFile)
	file, err := f.fs.OpenFile(child.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, NewIOError("create", child.path, -1, err)
	}
	if err := file.Close(); err != nil {
		return nil, NewIOError("close", child.path, -1, err)
	}
	return child, nil
}

func (f *FSFile) Delete() error {
	if err := f.fs.Remove(f.path); err != nil {
		return NewIOError("delete", f.path, -1, err)
	}
	return nil
}

func (f *FSFile) RenameTo(newName string) (RealFile, error) {
	target := f.Parent().Child(newName).(*FSFile)
	if target.Exists() {
		return nil, NewIOError("rename", target.path, -1, fs.ErrExist)
	}
	if err := f.fs.Rename(f.path, target.path); err != nil {
		return nil, NewIOError("rename", f.path, -1, err)
	}
	return target, nil
}

func (f *FSFile) MoveTo(dir RealFile) (RealFile, error) {
	d, ok := dir.(*FSFile)
	if !ok || d.fs != f.fs {
		return nil, fmt.Errorf("cannot move %s across filesystems", f.path)
	}
	target := d.Child(f.Name()).(*FSFile)
	if target.Exists() {
		return nil, NewIOError("move", target.path, -1, fs.ErrExist)
	}
	if err := f.fs.Rename(f.path, target.path); err != nil {
		return nil, NewIOError("move", f.path, -1, err)
	}
	return target, nil
}

func (f *FSFile) OpenRead() (RandomAccessFile, error) {
	file, err := f.fs.OpenFile(f.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, NewIOError("open", f.path, -1, err)
	}
	return newFileHandle(file), nil
}

func (f *FSFile) OpenWrite(truncate bool) (RandomAccessFile, error) {
	flag := os.O_RDWR | os.O_CREATE
	if truncate {
		flag |= os.O_TRUNC
	}
	file, err := f.fs.OpenFile(f.path, flag, 0644)
	if err != nil {
		return nil, NewIOError("open", f.path, -1, err)
	}
	return newFileHandle(file), nil
}

// fileHandle adapts absfs.File to RandomAccessFile. Files other than *os.File
// may keep a shared offset, so their positioned calls are serialized.
type fileHandle struct {
	absfs.File
	mu     sync.Mutex
	locked bool
}

func newFileHandle(f absfs.File) *fileHandle {
	_, native := f.(*os.File)
	return &fileHandle{File: f, locked: !native}
}

func (h *fileHandle) lock() func() {
	if !h.locked {
		return func() {}
	}
	h.mu.Lock()
	return h.mu.Unlock
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	defer h.lock()()
	return h.File.ReadAt(p, off)
}

func (h *fileHandle) WriteAt(p []byte, off int64) (int, error) {
	defer h.lock()()
	return h.File.WriteAt(p, off)
}

func (h *fileHandle) Truncate(size int64) error {
	defer h.lock()()
	return h.File.Truncate(size)
}

func (h *fileHandle) Sync() error {
	defer h.lock()()
	return h.File.Sync()
}

func (h *fileHandle) Size() (int64, error) {
	defer h.lock()()
	info, err := h.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// IsNotExist reports whether err means the real file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
