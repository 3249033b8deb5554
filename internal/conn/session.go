// internal/conn/session.go

package conn

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

// SessionState tracks one session's connection lifecycle.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionClass separates pooled mutating sessions from uncapped
// interactive ones so a terminal never blocks a deployment.
type SessionClass int

const (
	ClassMutating SessionClass = iota
	ClassInteractive
)

// Capabilities records what the remote side negotiated.
type Capabilities struct {
	CanExec bool
	CanSFTP bool
}

// Session is an ephemeral handle bound to one host. It is owned by the
// Manager and shared by reference only while held.
type Session struct {
	host  *models.Host
	class SessionClass

	mu         sync.RWMutex
	client     *ssh.Client
	sftpClient *sftp.Client
	state      SessionState
	lastActive time.Time
	caps       Capabilities
	lastError  error
}

// Host returns the host this session is bound to.
func (s *Session) Host() *models.Host {
	return s.host
}

// Client returns the underlying SSH client.
func (s *Session) Client() *ssh.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// SFTP returns the session's SFTP client, or nil when the remote side
// has no SFTP subsystem.
func (s *Session) SFTP() *sftp.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sftpClient
}

// Capabilities returns the negotiated capability set.
func (s *Session) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// State returns the session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the error that moved the session to StateFailed.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.lastError = err
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Exec runs a command over a fresh exec channel and returns its combined
// output.
func (s *Session) Exec(command string) ([]byte, error) {
	client := s.Client()
	if client == nil {
		return nil, apperr.New(apperr.ConnectionLost, "session for host %q is not connected", s.host.ID)
	}

	execSession, err := client.NewSession()
	if err != nil {
		s.setFailed(err)
		return nil, apperr.Wrap(apperr.ConnectionLost, err, "failed to create exec channel on %q", s.host.ID)
	}
	defer execSession.Close()

	out, err := execSession.CombinedOutput(command)
	if err != nil {
		if _, ok := err.(*ssh.ExitError); ok {
			// Remote ran the command and it exited non-zero; the
			// transport is fine.
			return out, fmt.Errorf("remote command %q failed: %v", command, err)
		}
		s.setFailed(err)
		return out, apperr.Wrap(apperr.ConnectionLost, err, "exec on %q", s.host.ID)
	}
	s.touch()
	return out, nil
}

// close tears the session down. Invoked by the Manager only.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []string
	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("sftp close: %v", err))
		}
		s.sftpClient = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("client close: %v", err))
		}
		s.client = nil
	}
	s.state = StateDisconnected
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
