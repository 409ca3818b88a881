package transfer

import (
	"io"
	"os"
	"path/filepath"
)

// File is an open file that supports positional I/O. Positional reads and
// writes make a retried chunk idempotent.
type File interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// FS is the filesystem capability a transfer needs from either side.
// Missing paths are reported with errors matching os.ErrNotExist.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	Open(path string) (File, error)
	OpenFile(path string, flag int) (File, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Mkdir(path string) error
	Symlink(oldname, newname string) error
	Remove(path string) error
	ReadLink(path string) (string, error)
	RealPath(path string) (string, error)
	Join(elem ...string) string
	Separator() string
}

// LocalFS is the local filesystem
type LocalFS struct{}

func (LocalFS) Stat(path string) (os.FileInfo, error)  { return os.Stat(path) }
func (LocalFS) Lstat(path string) (os.FileInfo, error) { return os.Lstat(path) }

func (LocalFS) Open(path string) (File, error) {
	return os.Open(path)
}

func (LocalFS) OpenFile(path string, flag int) (File, error) {
	return os.OpenFile(path, flag, 0o644)
}

// ReadDir reports entries without following symlinks
func (LocalFS) ReadDir(path string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (LocalFS) Mkdir(path string) error               { return os.Mkdir(path, 0o755) }
func (LocalFS) Symlink(oldname, newname string) error { return os.Symlink(oldname, newname) }
func (LocalFS) Remove(path string) error              { return os.Remove(path) }
func (LocalFS) ReadLink(path string) (string, error)  { return os.Readlink(path) }
func (LocalFS) Join(elem ...string) string            { return filepath.Join(elem...) }
func (LocalFS) Separator() string                     { return string(filepath.Separator) }

// RealPath returns the absolute path with symlinks resolved
func (LocalFS) RealPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
