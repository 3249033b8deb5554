// internal/vault/vault.go

package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

// Secret is the decrypted connection material for one host. It is
// fetched per connection attempt and must not outlive the session it
// authenticated.
type Secret struct {
	Method      models.AuthMethod
	Password    string
	KeyMaterial []byte
	Passphrase  string
}

// Vault resolves a secret reference to decrypted connection material.
type Vault interface {
	GetSecret(ref string) (*Secret, error)
}

const (
	vaultFileName  = "vault.json"
	vaultFilePerms = 0600
	vaultDirPerms  = 0700
)

// entry is the encrypted-at-rest form of one secret.
type entry struct {
	Method      models.AuthMethod `json:"method"`
	Password    string            `json:"password,omitempty"`
	KeyMaterial string            `json:"key_material,omitempty"`
	Passphrase  string            `json:"passphrase,omitempty"`
}

// FileVault stores secrets AES-GCM-encrypted in a single JSON file.
type FileVault struct {
	path    string
	cipher  *Cipher
	mu      sync.Mutex
	entries map[string]entry
}

// OpenFileVault loads (or initializes) the vault file in dir.
func OpenFileVault(dir string, cipher *Cipher) (*FileVault, error) {
	if err := os.MkdirAll(dir, vaultDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %v", err)
	}

	v := &FileVault{
		path:    filepath.Join(dir, vaultFileName),
		cipher:  cipher,
		entries: make(map[string]entry),
	}

	data, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, v.save()
		}
		return nil, fmt.Errorf("failed to read vault file: %v", err)
	}
	if err := json.Unmarshal(data, &v.entries); err != nil {
		return nil, fmt.Errorf("failed to parse vault file: %v", err)
	}
	return v, nil
}

func (v *FileVault) save() error {
	data, err := json.MarshalIndent(v.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %v", err)
	}
	if err := os.WriteFile(v.path, data, vaultFilePerms); err != nil {
		return fmt.Errorf("failed to write vault file: %v", err)
	}
	return nil
}

// PutPassword stores password credentials under ref.
func (v *FileVault) PutPassword(ref, password string) error {
	if ref == "" {
		return errors.New("secret reference cannot be empty")
	}
	enc, err := v.cipher.Encrypt([]byte(password))
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[ref] = entry{Method: models.AuthPassword, Password: enc}
	return v.save()
}

// PutKey stores private-key material (and an optional passphrase) under
// ref. The material is stored as given; format normalization happens at
// connection time.
func (v *FileVault) PutKey(ref string, keyMaterial []byte, passphrase string) error {
	if ref == "" {
		return errors.New("secret reference cannot be empty")
	}
	if len(keyMaterial) == 0 {
		return errors.New("key material cannot be empty")
	}
	encKey, err := v.cipher.Encrypt(keyMaterial)
	if err != nil {
		return err
	}
	e := entry{Method: models.AuthKey, KeyMaterial: encKey}
	if passphrase != "" {
		if e.Passphrase, err = v.cipher.Encrypt([]byte(passphrase)); err != nil {
			return err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[ref] = e
	return v.save()
}

// GetSecret decrypts and returns the secret stored under ref.
func (v *FileVault) GetSecret(ref string) (*Secret, error) {
	v.mu.Lock()
	e, ok := v.entries[ref]
	v.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no secret stored under %q", ref)
	}

	s := &Secret{Method: e.Method}
	switch e.Method {
	case models.AuthPassword:
		pw, err := v.cipher.Decrypt(e.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password for %q: %v", ref, err)
		}
		s.Password = string(pw)
	case models.AuthKey:
		key, err := v.cipher.Decrypt(e.KeyMaterial)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key for %q: %v", ref, err)
		}
		s.KeyMaterial = key
		if e.Passphrase != "" {
			pp, err := v.cipher.Decrypt(e.Passphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt passphrase for %q: %v", ref, err)
			}
			s.Passphrase = string(pp)
		}
	default:
		return nil, fmt.Errorf("unknown auth method %q for %q", e.Method, ref)
	}
	return s, nil
}

// Delete removes the secret stored under ref.
func (v *FileVault) Delete(ref string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[ref]; !ok {
		return apperr.New(apperr.NotFound, "no secret stored under %q", ref)
	}
	delete(v.entries, ref)
	return v.save()
}
