// internal/transfer/scp_fs.go

package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"

	"fleetcfg/internal/conn"
)

// scpFS implements RemoteFS for hosts without an SFTP subsystem, using
// the SCP protocol for content and exec channels for metadata. Slower
// than sftpFS but capability-equivalent for the engine's needs.
type scpFS struct {
	sess *conn.Session
	scp  scp.Client
}

func newSCPFS(sess *conn.Session) (*scpFS, error) {
	client, err := scp.NewClientBySSH(sess.Client())
	if err != nil {
		return nil, fmt.Errorf("failed to create scp client: %v", err)
	}
	return &scpFS{sess: sess, scp: client}, nil
}

func (fs *scpFS) Open(path string) (io.ReadCloser, error) {
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := fs.scp.CopyFromRemotePassThru(ctx, &buf, path, nil); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

// scpWriter buffers writes and ships them on Close, since SCP needs the
// total size up front.
type scpWriter struct {
	fs   *scpFS
	path string
	buf  bytes.Buffer
}

func (w *scpWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *scpWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return w.fs.scp.Copy(ctx, bytes.NewReader(w.buf.Bytes()), w.path, "0600", int64(w.buf.Len()))
}

func (fs *scpFS) Create(path string) (io.WriteCloser, error) {
	return &scpWriter{fs: fs, path: path}, nil
}

// scpFileInfo carries stat output parsed from the remote stat command.
type scpFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *scpFileInfo) Name() string       { return fi.name }
func (fi *scpFileInfo) Size() int64        { return fi.size }
func (fi *scpFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *scpFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *scpFileInfo) IsDir() bool        { return fi.isDir }
func (fi *scpFileInfo) Sys() interface{}   { return nil }

func (fs *scpFS) Stat(path string) (os.FileInfo, error) {
	out, err := fs.sess.Exec(fmt.Sprintf(`stat -c '%%n|%%s|%%a|%%Y|%%F' %s`, shellQuote(path)))
	if err != nil {
		if strings.Contains(string(out), "No such file") {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	return parseStatLine(strings.TrimSpace(string(out)))
}

func parseStatLine(line string) (os.FileInfo, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid stat output %q", line)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file size: %v", err)
	}
	modeInt, err := strconv.ParseInt(parts[2], 8, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file mode: %v", err)
	}
	modUnix, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse modification time: %v", err)
	}
	return &scpFileInfo{
		name:    filepath.Base(parts[0]),
		size:    size,
		mode:    os.FileMode(modeInt),
		modTime: time.Unix(modUnix, 0),
		isDir:   strings.Contains(parts[4], "directory"),
	}, nil
}

func (fs *scpFS) Rename(oldPath, newPath string) error {
	_, err := fs.sess.Exec(fmt.Sprintf("mv -f %s %s", shellQuote(oldPath), shellQuote(newPath)))
	return err
}

func (fs *scpFS) Remove(path string) error {
	_, err := fs.sess.Exec(fmt.Sprintf("rm -f %s", shellQuote(path)))
	return err
}

func (fs *scpFS) Chmod(path string, mode os.FileMode) error {
	_, err := fs.sess.Exec(fmt.Sprintf("chmod %o %s", mode.Perm(), shellQuote(path)))
	return err
}

func (fs *scpFS) ReadDir(path string) ([]os.FileInfo, error) {
	out, err := fs.sess.Exec(fmt.Sprintf(`stat -c '%%n|%%s|%%a|%%Y|%%F' %s/* 2>/dev/null || true`, shellQuote(path)))
	if err != nil {
		return nil, err
	}
	var infos []os.FileInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fi, err := parseStatLine(line)
		if err != nil {
			continue
		}
		infos = append(infos, fi)
	}
	return infos, nil
}

// shellQuote single-quotes a path for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
