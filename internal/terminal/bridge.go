// internal/terminal/bridge.go
//
// Bridges a local terminal to a remote interactive shell over a
// dedicated session. Bridges run outside the mutating session pool, so
// an open shell never blocks a deployment to the same host.

package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/conn"
)

// Options configure one interactive bridge.
type Options struct {
	Term   string // terminal type, defaults to xterm-256color
	Width  int
	Height int

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// KeepAlive is the interval between transport keepalives; zero
	// disables them.
	KeepAlive time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Term == "" {
		out.Term = "xterm-256color"
	}
	if out.Width <= 0 || out.Height <= 0 {
		out.Width, out.Height = 80, 24
	}
	if out.KeepAlive == 0 {
		out.KeepAlive = 30 * time.Second
	}
	return out
}

// Bridge is one live interactive shell.
type Bridge struct {
	sess    *conn.Session
	shell   *ssh.Session
	stop    chan struct{}
	stopped sync.Once
	log     *logrus.Entry

	mu     sync.Mutex
	width  int
	height int
}

// Open requests a PTY on the session, wires the byte streams and starts
// the remote shell. The session must be an interactive one acquired via
// AcquireInteractive.
func Open(sess *conn.Session, opts Options) (*Bridge, error) {
	opts = opts.withDefaults()

	client := sess.Client()
	if client == nil {
		return nil, apperr.New(apperr.ConnectionLost,
			"session for host %q is not connected", sess.Host().ID)
	}

	shell, err := client.NewSession()
	if err != nil {
		return nil, apperr.Wrap(apperr.ConnectionLost, err,
			"failed to open shell channel on %q", sess.Host().ID)
	}

	if err := shell.RequestPty(opts.Term, opts.Height, opts.Width, ptyModes()); err != nil {
		shell.Close()
		return nil, fmt.Errorf("failed to request PTY: %v", err)
	}

	shell.Stdin = opts.Stdin
	shell.Stdout = opts.Stdout
	shell.Stderr = opts.Stderr

	if err := shell.Shell(); err != nil {
		shell.Close()
		return nil, fmt.Errorf("failed to start shell: %v", err)
	}

	b := &Bridge{
		sess:   sess,
		shell:  shell,
		stop:   make(chan struct{}),
		log:    logrus.WithFields(logrus.Fields{"component": "terminal", "host": sess.Host().ID}),
		width:  opts.Width,
		height: opts.Height,
	}
	if opts.KeepAlive > 0 {
		go b.keepAliveLoop(opts.KeepAlive)
	}
	return b, nil
}

func ptyModes() ssh.TerminalModes {
	return ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
		ssh.VINTR:         3,  // Ctrl+C
		ssh.VQUIT:         28, // Ctrl+\
		ssh.VERASE:        127,
		ssh.VKILL:         21, // Ctrl+U
		ssh.VEOF:          4,  // Ctrl+D
		ssh.VWERASE:       23, // Ctrl+W
		ssh.VLNEXT:        22, // Ctrl+V
		ssh.VSUSP:         26, // Ctrl+Z
	}
}

// Resize propagates a new local terminal size to the remote PTY.
func (b *Bridge) Resize(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if width == b.width && height == b.height {
		return nil
	}
	if err := b.shell.WindowChange(height, width); err != nil {
		return fmt.Errorf("failed to update window size: %v", err)
	}
	b.width = width
	b.height = height
	return nil
}

// Wait blocks until the remote shell exits. Ordinary exit statuses and
// terminating signals are not errors.
func (b *Bridge) Wait() error {
	err := b.shell.Wait()
	b.Close()
	if err != nil && !benignExit(err) {
		return fmt.Errorf("session ended with error: %v", err)
	}
	return nil
}

// Close tears the bridge down. Safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.stopped.Do(func() {
		close(b.stop)
		err = b.shell.Close()
	})
	return err
}

func (b *Bridge) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			client := b.sess.Client()
			if client == nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				b.log.WithField("error", err).Warn("keepalive failed, closing bridge")
				b.Close()
				return
			}
		case <-b.stop:
			return
		}
	}
}

// benignExit reports whether a shell exit error is just the remote
// process ending, not a bridge failure.
func benignExit(err error) bool {
	if err == nil {
		return true
	}
	if _, ok := err.(*ssh.ExitMissingError); ok {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "exit status") ||
		strings.Contains(msg, "signal: terminated") ||
		strings.Contains(msg, "signal: interrupt")
}
