// internal/store/backups.go

package store

import (
	"sort"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

// SaveBackupRecord inserts a backup record.
func (s *Store) SaveBackupRecord(r *models.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[r.ID] = r
	return s.saveJSON(backupsFileName, s.backups)
}

// GetBackupRecord returns one backup record.
func (s *Store) GetBackupRecord(id string) (*models.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.backups[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "backup record %q not found", id)
	}
	cp := *r
	return &cp, nil
}

// ListBackupRecords returns the host's backup records, newest first.
func (s *Store) ListBackupRecords(hostID string) []*models.BackupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.BackupRecord, 0, len(s.backups))
	for _, r := range s.backups {
		if r.HostID == hostID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// DeleteBackupRecord removes a backup record from the log.
func (s *Store) DeleteBackupRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[id]; !ok {
		return apperr.New(apperr.NotFound, "backup record %q not found", id)
	}
	delete(s.backups, id)
	return s.saveJSON(backupsFileName, s.backups)
}
