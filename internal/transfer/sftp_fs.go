// internal/transfer/sftp_fs.go

package transfer

import (
	"io"
	"os"

	"github.com/pkg/sftp"
)

// sftpFS adapts an *sftp.Client to RemoteFS.
type sftpFS struct {
	client *sftp.Client
}

func (fs *sftpFS) Open(path string) (io.ReadCloser, error) {
	return fs.client.Open(path)
}

func (fs *sftpFS) Create(path string) (io.WriteCloser, error) {
	return fs.client.Create(path)
}

func (fs *sftpFS) Stat(path string) (os.FileInfo, error) {
	return fs.client.Stat(path)
}

func (fs *sftpFS) Rename(oldPath, newPath string) error {
	// POSIX rename overwrites the target atomically; plain SFTP rename
	// fails when the target exists.
	if err := fs.client.PosixRename(oldPath, newPath); err == nil {
		return nil
	}
	if err := fs.client.Remove(newPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return fs.client.Rename(oldPath, newPath)
}

func (fs *sftpFS) Remove(path string) error {
	return fs.client.Remove(path)
}

func (fs *sftpFS) Chmod(path string, mode os.FileMode) error {
	return fs.client.Chmod(path, mode)
}

func (fs *sftpFS) ReadDir(path string) ([]os.FileInfo, error) {
	return fs.client.ReadDir(path)
}
