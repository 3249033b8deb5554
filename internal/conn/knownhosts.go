// internal/conn/knownhosts.go

package conn

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

// hostKeyCallback builds the verification callback from the app-owned
// known_hosts file. With AcceptUnknown set, verification is skipped.
func (m *Manager) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if m.opts.AcceptUnknown {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if m.opts.KnownHostsPath == "" {
		return nil, fmt.Errorf("known_hosts path not configured and strict host key checking is enabled")
	}
	if _, err := os.Stat(m.opts.KnownHostsPath); err != nil {
		return nil, apperr.Wrap(apperr.AuthenticationFailed, err,
			"known_hosts file %s unavailable; pin hosts first", m.opts.KnownHostsPath)
	}
	cb, err := knownhosts.New(m.opts.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %v", err)
	}
	return cb, nil
}

// PinHostKey connects to the host just far enough to capture its public
// key and records it in the app-owned known_hosts file, replacing any
// previous entry for the same address.
func (m *Manager) PinHostKey(hostID string) error {
	host, err := m.hosts.GetHost(hostID)
	if err != nil {
		return err
	}
	if m.opts.KnownHostsPath == "" {
		return fmt.Errorf("known_hosts path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(m.opts.KnownHostsPath), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %v", err)
	}

	keyChan := make(chan ssh.PublicKey, 1)
	cfg := &ssh.ClientConfig{
		User: host.User,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			select {
			case keyChan <- key:
			default:
			}
			return nil
		},
		Timeout: m.opts.DialTimeout,
	}

	// Auth is expected to fail; the handshake still delivers the key.
	if client, err := ssh.Dial("tcp", host.Addr(), cfg); err == nil {
		client.Close()
	}

	var hostKey ssh.PublicKey
	select {
	case hostKey = <-keyChan:
	default:
		return apperr.New(apperr.ConnectionLost, "could not retrieve host key from %q", hostID)
	}

	return writeKnownHostEntry(m.opts.KnownHostsPath, knownhosts.Normalize(host.Addr()), hostKey)
}

func writeKnownHostEntry(path, hostPattern string, key ssh.PublicKey) error {
	var kept []string
	if content, err := os.ReadFile(path); err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(content)))
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if !strings.HasPrefix(line, hostPattern+" ") {
				kept = append(kept, line)
			}
		}
	}
	kept = append(kept, knownhosts.Line([]string{hostPattern}, key))

	content := strings.Join(kept, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write known_hosts file: %v", err)
	}
	return nil
}

// verify the resolver interface is what the store provides
var _ HostResolver = (hostResolverFunc)(nil)

// hostResolverFunc adapts a lookup function to HostResolver; used by
// tests.
type hostResolverFunc func(id string) (*models.Host, error)

func (f hostResolverFunc) GetHost(id string) (*models.Host, error) {
	return f(id)
}
