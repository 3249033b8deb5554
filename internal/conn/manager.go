// internal/conn/manager.go
//
// The Manager owns every live SSH connection. Mutating operations go
// through a pooled, one-per-host session so deployments serialize;
// interactive sessions are dialed fresh and never contend with the pool.

package conn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
	"fleetcfg/internal/vault"
)

// HostResolver supplies host records to the manager. The store
// implements it.
type HostResolver interface {
	GetHost(id string) (*models.Host, error)
}

// Options tune the manager's timeouts and host key policy.
type Options struct {
	DialTimeout    time.Duration
	IdleThreshold  time.Duration
	KnownHostsPath string
	// AcceptUnknown disables strict host key checking. Intended for
	// first-contact provisioning only.
	AcceptUnknown bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.IdleThreshold == 0 {
		out.IdleThreshold = 2 * time.Minute
	}
	return out
}

// slot is the pool entry for one host's mutating session. The semaphore
// enforces at most one concurrent holder.
type slot struct {
	sem  chan struct{}
	sess *Session
}

// Manager is the single synchronization boundary around the session
// pool. All pool bookkeeping happens under mu; sessions themselves are
// handed out by reference while the slot semaphore is held.
type Manager struct {
	hosts HostResolver
	vault vault.Vault
	opts  Options
	log   *logrus.Entry

	mu    sync.Mutex
	slots map[string]*slot
}

// NewManager creates a connection manager.
func NewManager(hosts HostResolver, v vault.Vault, opts Options) *Manager {
	return &Manager{
		hosts: hosts,
		vault: v,
		opts:  opts.withDefaults(),
		log:   logrus.WithField("component", "conn"),
		slots: make(map[string]*slot),
	}
}

func (m *Manager) slotFor(hostID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[hostID]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		m.slots[hostID] = sl
	}
	return sl
}

// Acquire returns the host's pooled mutating session, establishing or
// re-establishing it as needed. The caller must Release the session;
// until then no other caller can acquire a mutating session for this
// host.
func (m *Manager) Acquire(ctx context.Context, hostID string) (*Session, error) {
	sl := m.slotFor(hostID)

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.ConnectionLost, ctx.Err(), "waiting for session slot of %q", hostID)
	}

	sess, err := m.ensureConnected(ctx, sl, hostID, ClassMutating)
	if err != nil {
		<-sl.sem
		return nil, err
	}
	return sess, nil
}

// AcquireInteractive dials a dedicated session outside the pool. The
// caller owns it until Invalidate.
func (m *Manager) AcquireInteractive(ctx context.Context, hostID string) (*Session, error) {
	return m.dial(ctx, hostID, ClassInteractive)
}

// Release returns a pooled session to the pool without closing it.
// Interactive sessions are closed instead, since nothing pools them.
func (m *Manager) Release(sess *Session) {
	if sess == nil {
		return
	}
	if sess.class == ClassInteractive {
		_ = sess.close()
		return
	}
	sess.touch()
	sl := m.slotFor(sess.host.ID)
	select {
	case <-sl.sem:
	default:
		// Slot already free; Release after Invalidate is a no-op.
	}
}

// Invalidate force-closes a session after a protocol error. A pooled
// session's slot is freed so the next Acquire reconnects lazily.
func (m *Manager) Invalidate(sess *Session) {
	if sess == nil {
		return
	}
	m.log.WithFields(logrus.Fields{"host": sess.host.ID, "state": sess.State().String()}).
		Warn("invalidating session")
	_ = sess.close()

	if sess.class != ClassMutating {
		return
	}
	sl := m.slotFor(sess.host.ID)
	m.mu.Lock()
	if sl.sess == sess {
		sl.sess = nil
	}
	m.mu.Unlock()
	select {
	case <-sl.sem:
	default:
	}
}

// ensureConnected reuses the slot's session when healthy, reconnecting
// otherwise. Called with the slot semaphore held.
func (m *Manager) ensureConnected(ctx context.Context, sl *slot, hostID string, class SessionClass) (*Session, error) {
	m.mu.Lock()
	sess := sl.sess
	m.mu.Unlock()

	if sess != nil && sess.State() == StateReady {
		if time.Since(sess.idleSince()) < m.opts.IdleThreshold || m.healthCheck(sess) {
			sess.touch()
			return sess, nil
		}
		// Health check failed; drop and reconnect below.
		_ = sess.close()
	}

	sess, err := m.dial(ctx, hostID, class)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	sl.sess = sess
	m.mu.Unlock()
	return sess, nil
}

// healthCheck runs a no-op remote command on an idle session.
func (m *Manager) healthCheck(sess *Session) bool {
	if _, err := sess.Exec("true"); err != nil {
		m.log.WithFields(logrus.Fields{"host": sess.host.ID, "error": err}).
			Debug("session health check failed")
		return false
	}
	return true
}

// dial establishes and authenticates a new session. Secrets are fetched
// for this attempt only and are not retained.
func (m *Manager) dial(ctx context.Context, hostID string, class SessionClass) (*Session, error) {
	host, err := m.hosts.GetHost(hostID)
	if err != nil {
		return nil, err
	}

	secret, err := m.vault.GetSecret(host.SecretRef)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthenticationFailed, err, "resolving credentials for %q", hostID)
	}

	auth, err := buildAuth(host, secret)
	if err != nil {
		return nil, err
	}

	hostKeyCB, err := m.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         m.opts.DialTimeout,
	}

	sess := &Session{host: host, class: class, state: StateConnecting}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultChan := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", host.Addr(), cfg)
		resultChan <- dialResult{client, err}
	}()

	var client *ssh.Client
	select {
	case res := <-resultChan:
		if res.err != nil {
			sess.setFailed(res.err)
			return nil, classifyDialError(hostID, res.err)
		}
		client = res.client
	case <-ctx.Done():
		// The dial goroutine may still win the race; close whatever it
		// produces so an abandoned attempt never leaks a connection.
		go func() {
			if res := <-resultChan; res.client != nil {
				res.client.Close()
			}
		}()
		sess.setFailed(ctx.Err())
		return nil, apperr.Wrap(apperr.ConnectionLost, ctx.Err(), "dialing %q", hostID)
	}

	caps := Capabilities{CanExec: true}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		// No SFTP subsystem; the transfer engine falls back to SCP.
		m.log.WithFields(logrus.Fields{"host": hostID, "error": err}).
			Debug("sftp subsystem unavailable")
	} else {
		caps.CanSFTP = true
	}

	sess.mu.Lock()
	sess.client = client
	sess.sftpClient = sftpClient
	sess.caps = caps
	sess.state = StateReady
	sess.lastActive = time.Now()
	sess.mu.Unlock()

	m.log.WithFields(logrus.Fields{"host": hostID, "sftp": caps.CanSFTP, "class": class}).
		Info("session established")
	return sess, nil
}

// buildAuth assembles SSH auth methods from the decrypted secret.
// Legacy key material is normalized to PEM first.
func buildAuth(host *models.Host, secret *vault.Secret) ([]ssh.AuthMethod, error) {
	switch secret.Method {
	case models.AuthPassword:
		return []ssh.AuthMethod{ssh.Password(secret.Password)}, nil
	case models.AuthKey:
		material, err := vault.NormalizeKey(secret.KeyMaterial)
		if err != nil {
			return nil, apperr.Wrap(apperr.AuthenticationFailed, err, "normalizing key for %q", host.ID)
		}
		var signer ssh.Signer
		if secret.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(material, []byte(secret.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(material)
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.AuthenticationFailed, err, "parsing key for %q", host.ID)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, apperr.New(apperr.AuthenticationFailed, "unknown auth method %q for %q", secret.Method, host.ID)
	}
}

func classifyDialError(hostID string, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "no supported methods remain") {
		return apperr.Wrap(apperr.AuthenticationFailed, err, "authenticating to %q", hostID)
	}
	return apperr.Wrap(apperr.ConnectionLost, err, "connecting to %q", hostID)
}
