// internal/transfer/remote.go

package transfer

import (
	"io"
	"os"
)

// RemoteFS is the minimal remote filesystem surface the engine needs.
// SFTP-backed sessions get the native implementation; sessions without
// an SFTP subsystem fall back to an SCP/exec implementation.
type RemoteFS interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	Stat(path string) (os.FileInfo, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
	Chmod(path string, mode os.FileMode) error
	ReadDir(path string) ([]os.FileInfo, error)
}
