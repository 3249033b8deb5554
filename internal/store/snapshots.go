// internal/store/snapshots.go

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.baseDir, snapshotsDirName, id+".cbor.zst")
}

// SaveSnapshot archives a snapshot and appends it to the host's history.
// When makeCurrent is set the snapshot becomes the host's current
// pointer and the previous current moves to plain history.
func (s *Store) SaveSnapshot(snap *models.ConfigSnapshot, makeCurrent bool) error {
	raw, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %v", snap.ID, err)
	}
	compressed := s.zstdEnc.EncodeAll(raw, nil)
	if err := os.WriteFile(s.snapshotPath(snap.ID), compressed, filePerms); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %v", snap.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapIndex.History[snap.HostID] = append(s.snapIndex.History[snap.HostID], snap.ID)
	if makeCurrent {
		s.snapIndex.Current[snap.HostID] = snap.ID
	}
	return s.saveJSON(snapshotIndexName, &s.snapIndex)
}

// GetSnapshot loads one archived snapshot.
func (s *Store) GetSnapshot(id string) (*models.ConfigSnapshot, error) {
	compressed, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "snapshot %q not found", id)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %v", id, err)
	}
	raw, err := s.zstdDec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot %s: %v", id, err)
	}
	var snap models.ConfigSnapshot
	if err := cbor.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %v", id, err)
	}
	return &snap, nil
}

// CurrentSnapshot returns the host's current snapshot, or NotFound if
// the host has never been pulled.
func (s *Store) CurrentSnapshot(hostID string) (*models.ConfigSnapshot, error) {
	s.mu.Lock()
	id, ok := s.snapIndex.Current[hostID]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no current snapshot for host %q", hostID)
	}
	return s.GetSnapshot(id)
}

// SetCurrent moves the host's current pointer to an already-stored
// snapshot.
func (s *Store) SetCurrent(hostID, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, id := range s.snapIndex.History[hostID] {
		if id == snapshotID {
			found = true
			break
		}
	}
	if !found {
		return apperr.New(apperr.NotFound, "snapshot %q not in history of host %q", snapshotID, hostID)
	}
	s.snapIndex.Current[hostID] = snapshotID
	return s.saveJSON(snapshotIndexName, &s.snapIndex)
}

// ListSnapshotIDs returns the host's snapshot history, oldest first.
func (s *Store) ListSnapshotIDs(hostID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.snapIndex.History[hostID]...)
}

// DeleteSnapshot removes an archived snapshot and its history entry.
// The current snapshot of a host cannot be deleted.
func (s *Store) DeleteSnapshot(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hostID, current := range s.snapIndex.Current {
		if current == id {
			return apperr.New(apperr.Conflict, "snapshot %q is the current snapshot of host %q", id, hostID)
		}
	}
	for hostID, history := range s.snapIndex.History {
		for i, sid := range history {
			if sid == id {
				s.snapIndex.History[hostID] = append(history[:i], history[i+1:]...)
				if err := s.saveJSON(snapshotIndexName, &s.snapIndex); err != nil {
					return err
				}
				if err := os.Remove(s.snapshotPath(id)); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove snapshot %s: %v", id, err)
				}
				return nil
			}
		}
	}
	return apperr.New(apperr.NotFound, "snapshot %q not found", id)
}
