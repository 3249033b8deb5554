// internal/store/store.go
//
// File-backed state for the orchestration core: host registry, snapshot
// history with a current pointer per host, deployment log and backup
// records. JSON index files live under the state directory; snapshot
// payloads are stored as cbor-encoded, zstd-compressed archives.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"fleetcfg/internal/models"
)

const (
	hostsFileName       = "hosts.json"
	deploymentsFileName = "deployments.json"
	backupsFileName     = "backups.json"
	snapshotIndexName   = "snapshots.json"
	snapshotsDirName    = "snapshots"

	filePerms = 0600
	dirPerms  = 0700
)

// snapshotIndex tracks stored snapshots and the current pointer per host.
type snapshotIndex struct {
	// History holds snapshot ids per host, oldest first.
	History map[string][]string `json:"history"`
	// Current maps host id to its current snapshot id.
	Current map[string]string `json:"current"`
}

// Store owns all persisted core state. Safe for concurrent use.
type Store struct {
	baseDir string

	mu          sync.Mutex
	hosts       map[string]*models.Host
	deployments map[string]*models.Deployment
	backups     map[string]*models.BackupRecord
	snapIndex   snapshotIndex

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

// Open loads (or initializes) the store rooted at baseDir.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, snapshotsDirName), dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %v", err)
	}

	s := &Store{
		baseDir:     baseDir,
		hosts:       make(map[string]*models.Host),
		deployments: make(map[string]*models.Deployment),
		backups:     make(map[string]*models.BackupRecord),
		snapIndex: snapshotIndex{
			History: make(map[string][]string),
			Current: make(map[string]string),
		},
		zstdEnc: enc,
		zstdDec: dec,
	}

	if err := s.loadJSON(hostsFileName, &s.hosts); err != nil {
		return nil, err
	}
	if err := s.loadJSON(deploymentsFileName, &s.deployments); err != nil {
		return nil, err
	}
	if err := s.loadJSON(backupsFileName, &s.backups); err != nil {
		return nil, err
	}
	if err := s.loadJSON(snapshotIndexName, &s.snapIndex); err != nil {
		return nil, err
	}
	if s.snapIndex.History == nil {
		s.snapIndex.History = make(map[string][]string)
	}
	if s.snapIndex.Current == nil {
		s.snapIndex.Current = make(map[string]string)
	}
	return s, nil
}

func (s *Store) loadJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.baseDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %v", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %v", name, err)
	}
	return nil
}

func (s *Store) saveJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.baseDir, name), data, filePerms); err != nil {
		return fmt.Errorf("failed to write %s: %v", name, err)
	}
	return nil
}
