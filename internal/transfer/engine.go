// internal/transfer/engine.go
//
// The engine mediates every remote file operation for one session.
// Writes are atomic from the target's point of view: content lands in a
// temporary file in the target directory, then a rename moves it over
// the original. An interrupted transfer can orphan a temp file but
// never leaves the target half-written.

package transfer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/conn"
	"fleetcfg/internal/models"
)

const copyBufSize = 128 * 1024

// Engine performs scoped remote file operations over one session.
type Engine struct {
	fs   RemoteFS
	host *models.Host
	log  *logrus.Entry
}

// NewEngine builds an engine on a session, choosing SFTP when the
// session negotiated it and SCP otherwise.
func NewEngine(sess *conn.Session) (*Engine, error) {
	host := sess.Host()
	var fs RemoteFS
	if sess.Capabilities().CanSFTP {
		fs = &sftpFS{client: sess.SFTP()}
	} else {
		scpfs, err := newSCPFS(sess)
		if err != nil {
			return nil, err
		}
		fs = scpfs
	}
	return newEngine(fs, host), nil
}

// newEngine wires an engine onto an arbitrary RemoteFS; split out so
// tests can inject a fake remote.
func newEngine(fs RemoteFS, host *models.Host) *Engine {
	return &Engine{
		fs:   fs,
		host: host,
		log:  logrus.WithFields(logrus.Fields{"component": "transfer", "host": host.ID}),
	}
}

func (e *Engine) checkScope(remotePath string) error {
	if !e.host.InScope(remotePath) {
		return apperr.New(apperr.ScopeViolation,
			"path %q is outside the declared file set of host %q", remotePath, e.host.ID)
	}
	return nil
}

// ReadFile returns a declared file's content and mode.
func (e *Engine) ReadFile(ctx context.Context, remotePath string) ([]byte, os.FileMode, error) {
	if err := e.checkScope(remotePath); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, apperr.Wrap(apperr.ConnectionLost, err, "reading %s", remotePath)
	}

	info, err := e.fs.Stat(remotePath)
	if err != nil {
		return nil, 0, classifyFSError(err, "stat %s", remotePath)
	}

	f, err := e.fs.Open(remotePath)
	if err != nil {
		return nil, 0, classifyFSError(err, "open %s", remotePath)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, classifyFSError(err, "read %s", remotePath)
	}
	return content, info.Mode().Perm(), nil
}

// WriteFileAtomic writes content to a declared path via temp-then-rename,
// preserving the original's permission bits when the file existed.
func (e *Engine) WriteFileAtomic(ctx context.Context, remotePath string, content []byte, mode os.FileMode) error {
	if err := e.checkScope(remotePath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.ConnectionLost, err, "writing %s", remotePath)
	}

	if info, err := e.fs.Stat(remotePath); err == nil {
		mode = info.Mode().Perm()
	} else if mode == 0 {
		mode = 0644
	}

	tmpPath := tempPath(remotePath)
	if err := e.writeTemp(tmpPath, content); err != nil {
		e.removeTemp(tmpPath)
		return err
	}

	if err := e.fs.Chmod(tmpPath, mode); err != nil {
		e.removeTemp(tmpPath)
		return classifyFSError(err, "chmod %s", tmpPath)
	}

	if err := e.fs.Rename(tmpPath, remotePath); err != nil {
		e.removeTemp(tmpPath)
		return classifyFSError(err, "rename %s over %s", tmpPath, remotePath)
	}

	e.log.WithFields(logrus.Fields{"path": remotePath, "bytes": len(content)}).Debug("wrote file")
	return nil
}

func (e *Engine) writeTemp(tmpPath string, content []byte) error {
	f, err := e.fs.Create(tmpPath)
	if err != nil {
		return classifyFSError(err, "create temp file %s", tmpPath)
	}

	for off := 0; off < len(content); off += copyBufSize {
		end := off + copyBufSize
		if end > len(content) {
			end = len(content)
		}
		n, err := f.Write(content[off:end])
		if err != nil {
			f.Close()
			return classifyFSError(err, "write temp file %s", tmpPath)
		}
		if n != end-off {
			f.Close()
			return apperr.New(apperr.TransferFailed,
				"incomplete write to %s: wrote %d bytes instead of %d", tmpPath, n, end-off)
		}
	}
	if err := f.Close(); err != nil {
		return classifyFSError(err, "flush temp file %s", tmpPath)
	}
	return nil
}

func (e *Engine) removeTemp(tmpPath string) {
	if err := e.fs.Remove(tmpPath); err != nil {
		e.log.WithFields(logrus.Fields{"path": tmpPath, "error": err}).
			Debug("failed to remove orphaned temp file")
	}
}

// ListDir lists a directory that contains declared files.
func (e *Engine) ListDir(ctx context.Context, remoteDir string) ([]os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ConnectionLost, err, "listing %s", remoteDir)
	}
	inScope := false
	cleanDir := path.Clean(remoteDir)
	for _, p := range e.host.Files {
		if path.Dir(path.Clean(p)) == cleanDir {
			inScope = true
			break
		}
	}
	if !inScope {
		return nil, apperr.New(apperr.ScopeViolation,
			"directory %q holds no declared files of host %q", remoteDir, e.host.ID)
	}

	infos, err := e.fs.ReadDir(cleanDir)
	if err != nil {
		return nil, classifyFSError(err, "list %s", remoteDir)
	}
	return infos, nil
}

// Exists reports whether a declared path exists on the remote host.
func (e *Engine) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := e.checkScope(remotePath); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, apperr.Wrap(apperr.ConnectionLost, err, "checking %s", remotePath)
	}

	_, err := e.fs.Stat(remotePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, classifyFSError(err, "stat %s", remotePath)
}

// tempPath builds a sibling temp path so the final rename never crosses
// filesystems.
func tempPath(remotePath string) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	dir, base := path.Split(remotePath)
	return dir + "." + base + ".tmp-" + hex.EncodeToString(suffix[:])
}

func classifyFSError(err error, format string, args ...interface{}) error {
	op := fmt.Sprintf(format, args...)
	switch {
	case os.IsPermission(err) || strings.Contains(strings.ToLower(err.Error()), "permission denied"):
		return apperr.Wrap(apperr.AccessDenied, err, "%s", op)
	case strings.Contains(err.Error(), "connection lost") || strings.Contains(err.Error(), "EOF") ||
		strings.Contains(err.Error(), "use of closed"):
		return apperr.Wrap(apperr.ConnectionLost, err, "%s", op)
	default:
		return apperr.Wrap(apperr.TransferFailed, err, "%s", op)
	}
}
