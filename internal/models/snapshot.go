// internal/models/snapshot.go

package models

import (
	"os"
	"sort"
	"time"
)

// FileState captures one remote file inside a snapshot.
type FileState struct {
	Content []byte      `json:"content" cbor:"1,keyasint"`
	Hash    string      `json:"hash" cbor:"2,keyasint"`
	Mode    os.FileMode `json:"mode" cbor:"3,keyasint"`
}

// ConfigSnapshot is a point-in-time capture of a host's declared file
// set. Immutable once created.
type ConfigSnapshot struct {
	ID        string               `json:"id" cbor:"1,keyasint"`
	HostID    string               `json:"host_id" cbor:"2,keyasint"`
	CreatedAt time.Time            `json:"created_at" cbor:"3,keyasint"`
	Files     map[string]FileState `json:"files" cbor:"4,keyasint"`
}

// Paths returns the snapshot's file paths in sorted order.
func (s *ConfigSnapshot) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ContentMap flattens the snapshot to path -> content, the shape a
// restore deployment's change set takes.
func (s *ConfigSnapshot) ContentMap() map[string][]byte {
	m := make(map[string][]byte, len(s.Files))
	for p, f := range s.Files {
		m[p] = append([]byte(nil), f.Content...)
	}
	return m
}

// ChangeKind classifies one path in a diff.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeModified  ChangeKind = "modified"
	ChangeUnchanged ChangeKind = "unchanged"
	ChangeRemoved   ChangeKind = "removed"
)

// PathChange is one entry of a snapshot diff.
type PathChange struct {
	Path    string      `json:"path"`
	Kind    ChangeKind  `json:"kind"`
	Content []byte      `json:"-"`
	Mode    os.FileMode `json:"mode,omitempty"`
}
