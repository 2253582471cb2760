package salmon

import (
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/absfs/absfs"
)

// OSFileSystem is an absfs.FileSystem over a directory of the local disk.
// Paths are slash separated and relative to Root.
type OSFileSystem struct {
	Root string
	cwd  string
}

var _ absfs.FileSystem = (*OSFileSystem)(nil)

// NewOSFileSystem returns a filesystem rooted at root.
func NewOSFileSystem(root string) *OSFileSystem {
	return &OSFileSystem{Root: root}
}

// real maps name into Root. ".." elements cannot climb above Root.
func (fs *OSFileSystem) real(name string) string {
	return filepath.Join(fs.Root, filepath.FromSlash(path.Clean("/"+name)))
}

func (fs *OSFileSystem) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(fs.real(name), flag, perm)
}

func (fs *OSFileSystem) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(fs.real(name), perm)
}

func (fs *OSFileSystem) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(fs.real(name), perm)
}

func (fs *OSFileSystem) Remove(name string) error {
	return os.Remove(fs.real(name))
}

func (fs *OSFileSystem) RemoveAll(name string) error {
	return os.RemoveAll(fs.real(name))
}

func (fs *OSFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(fs.real(oldpath), fs.real(newpath))
}

func (fs *OSFileSystem) Stat(name string) (os.FileInfo, error) {
	return os.Stat(fs.real(name))
}

func (fs *OSFileSystem) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(fs.real(name), mode)
}

func (fs *OSFileSystem) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(fs.real(name), atime, mtime)
}

func (fs *OSFileSystem) Chown(name string, uid, gid int) error {
	return os.Chown(fs.real(name), uid, gid)
}

func (fs *OSFileSystem) Separator() uint8 {
	return '/'
}

func (fs *OSFileSystem) ListSeparator() uint8 {
	return os.PathListSeparator
}

func (fs *OSFileSystem) Chdir(dir string) error {
	fs.cwd = dir
	return nil
}

func (fs *OSFileSystem) Getwd() (string, error) {
	if fs.cwd == "" {
		return "/", nil
	}
	return fs.cwd, nil
}

func (fs *OSFileSystem) TempDir() string {
	return os.TempDir()
}

func (fs *OSFileSystem) Open(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *OSFileSystem) Create(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *OSFileSystem) Truncate(name string, size int64) error {
	return os.Truncate(fs.real(name), size)
}
