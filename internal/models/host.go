// internal/models/host.go

package models

import (
	"errors"
	"fmt"
	"path"
)

// AuthMethod selects how a host authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
)

// KeyFormat tags the on-disk format of stored private-key material.
type KeyFormat string

const (
	// KeyFormatOpenSSH is PEM-encoded OpenSSH or PKCS#1 material, usable
	// as-is.
	KeyFormatOpenSSH KeyFormat = "openssh"
	// KeyFormatPPK is legacy PuTTY material that must be normalized
	// before use.
	KeyFormatPPK KeyFormat = "ppk"
)

// Host describes one managed remote machine and its declared
// configuration file set. A Host is immutable for the duration of a
// single operation; edits happen between operations.
type Host struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	Port        int        `json:"port"`
	User        string     `json:"user"`
	AuthMethod  AuthMethod `json:"auth_method"`
	KeyFormat   KeyFormat  `json:"key_format,omitempty"`
	SecretRef   string     `json:"secret_ref"`
	Files       []string   `json:"files"`
	Description string     `json:"description,omitempty"`
}

// Addr returns the dial address in host:port form.
func (h *Host) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// Validate checks the host record for completeness.
func (h *Host) Validate() error {
	if h.ID == "" {
		return errors.New("host id cannot be empty")
	}
	if h.Address == "" {
		return errors.New("host address cannot be empty")
	}
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("invalid port %d", h.Port)
	}
	if h.User == "" {
		return errors.New("user cannot be empty")
	}
	if h.AuthMethod != AuthPassword && h.AuthMethod != AuthKey {
		return fmt.Errorf("unknown auth method %q", h.AuthMethod)
	}
	if h.SecretRef == "" {
		return errors.New("secret reference cannot be empty")
	}
	if len(h.Files) == 0 {
		return errors.New("declared file set cannot be empty")
	}
	for _, p := range h.Files {
		if !path.IsAbs(p) {
			return fmt.Errorf("declared file %q is not absolute", p)
		}
	}
	return nil
}

// InScope reports whether a remote path belongs to the declared file set.
func (h *Host) InScope(remotePath string) bool {
	clean := path.Clean(remotePath)
	for _, p := range h.Files {
		if path.Clean(p) == clean {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the host record.
func (h *Host) Clone() *Host {
	c := *h
	c.Files = append([]string(nil), h.Files...)
	return &c
}
