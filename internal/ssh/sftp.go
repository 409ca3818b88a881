package ssh

import (
	"fmt"
	"os"
	"path"

	"github.com/pkg/sftp"

	"ssh-fleet/internal/errors"
	"ssh-fleet/internal/transfer"
)

// sftpFS adapts an sftp.Client to transfer.FS. Remote paths always use "/".
type sftpFS struct {
	client *sftp.Client
	fsync  bool
}

func newSFTPFS(client *sftp.Client) *sftpFS {
	_, fsync := client.HasExtension("fsync@openssh.com")
	return &sftpFS{client: client, fsync: fsync}
}

// notExist makes sftp "no such file" statuses match os.ErrNotExist
func notExist(err error) error {
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return err
	}
	var status *sftp.StatusError
	if errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxNoSuchFile {
		return fmt.Errorf("%w: %v", os.ErrNotExist, err)
	}
	return err
}

func (s *sftpFS) Stat(p string) (os.FileInfo, error) {
	info, err := s.client.Stat(p)
	return info, notExist(err)
}

func (s *sftpFS) Lstat(p string) (os.FileInfo, error) {
	info, err := s.client.Lstat(p)
	return info, notExist(err)
}

func (s *sftpFS) Open(p string) (transfer.File, error) {
	f, err := s.client.Open(p)
	if err != nil {
		return nil, notExist(err)
	}
	return &sftpFile{File: f, fsync: s.fsync}, nil
}

func (s *sftpFS) OpenFile(p string, flag int) (transfer.File, error) {
	f, err := s.client.OpenFile(p, flag)
	if err != nil {
		return nil, notExist(err)
	}
	return &sftpFile{File: f, fsync: s.fsync}, nil
}

func (s *sftpFS) ReadDir(p string) ([]os.FileInfo, error) {
	infos, err := s.client.ReadDir(p)
	return infos, notExist(err)
}

func (s *sftpFS) Mkdir(p string) error {
	return s.client.Mkdir(p)
}

func (s *sftpFS) Symlink(oldname, newname string) error {
	return s.client.Symlink(oldname, newname)
}

func (s *sftpFS) Remove(p string) error {
	return s.client.Remove(p)
}

func (s *sftpFS) ReadLink(p string) (string, error) {
	return s.client.ReadLink(p)
}

func (s *sftpFS) RealPath(p string) (string, error) {
	return s.client.RealPath(p)
}

func (s *sftpFS) Join(elem ...string) string { return path.Join(elem...) }
func (s *sftpFS) Separator() string          { return "/" }

func (s *sftpFS) Close() error {
	return s.client.Close()
}

// sftpFile skips Sync on servers without the fsync extension
type sftpFile struct {
	*sftp.File
	fsync bool
}

func (f *sftpFile) Sync() error {
	if !f.fsync {
		return nil
	}
	return f.File.Sync()
}
