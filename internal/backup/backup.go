// internal/backup/backup.go
//
// Creates retained snapshots before deployments and prunes old ones per
// the retention policy. A record referenced by a non-terminal deployment
// is never pruned, so a sweep can run concurrently with deployments.

package backup

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
	"fleetcfg/internal/store"
)

// Puller produces a fresh current snapshot for a host. The sync engine
// implements it.
type Puller interface {
	Pull(ctx context.Context, hostID string) (*models.ConfigSnapshot, error)
}

// Policies holds one retention policy per retention class.
type Policies struct {
	Manual    models.RetentionPolicy
	Scheduled models.RetentionPolicy
}

// DefaultPolicies: scheduled backups capped by count, manual ones by
// age.
func DefaultPolicies() Policies {
	return Policies{
		Manual:    models.RetentionPolicy{MaxAge: 30 * 24 * time.Hour},
		Scheduled: models.RetentionPolicy{MaxCount: 10},
	}
}

func (p Policies) forClass(class models.RetentionClass) models.RetentionPolicy {
	if class == models.RetentionManual {
		return p.Manual
	}
	return p.Scheduled
}

// Manager owns backup records and their retention.
type Manager struct {
	store    *store.Store
	puller   Puller
	policies Policies
	log      *logrus.Entry
}

// NewManager creates a backup manager.
func NewManager(st *store.Store, puller Puller, policies Policies) *Manager {
	return &Manager{
		store:    st,
		puller:   puller,
		policies: policies,
		log:      logrus.WithField("component", "backup"),
	}
}

// SnapshotNow pulls a fresh snapshot and records it as a backup.
func (m *Manager) SnapshotNow(ctx context.Context, hostID string, class models.RetentionClass) (*models.BackupRecord, error) {
	snap, err := m.puller.Pull(ctx, hostID)
	if err != nil {
		return nil, err
	}
	return m.record(snap, class)
}

// Record registers an already-stored snapshot as a backup. The
// deployment machine uses this so backing up reuses the session it
// already holds.
func (m *Manager) Record(snap *models.ConfigSnapshot, class models.RetentionClass) (*models.BackupRecord, error) {
	return m.record(snap, class)
}

func (m *Manager) record(snap *models.ConfigSnapshot, class models.RetentionClass) (*models.BackupRecord, error) {
	rec := models.NewBackupRecord(snap.HostID, snap.ID, class)
	if err := m.store.SaveBackupRecord(rec); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"host": snap.HostID, "backup": rec.ID, "class": class}).
		Info("recorded backup")
	return rec, nil
}

// List returns the host's backup records, newest first.
func (m *Manager) List(hostID string) []*models.BackupRecord {
	return m.store.ListBackupRecords(hostID)
}

// Get returns one backup record.
func (m *Manager) Get(id string) (*models.BackupRecord, error) {
	return m.store.GetBackupRecord(id)
}

// Sweep prunes the host's backup records beyond their class policy.
// Records referenced by a non-terminal deployment are skipped, as is
// the snapshot currently pointed to by the host. Idempotent.
func (m *Manager) Sweep(hostID string) (int, error) {
	removed := 0
	records := m.store.ListBackupRecords(hostID) // newest first

	perClass := make(map[models.RetentionClass]int)
	for _, rec := range records {
		perClass[rec.Class]++
		policy := m.policies.forClass(rec.Class)

		expired := false
		if policy.MaxCount > 0 && perClass[rec.Class] > policy.MaxCount {
			expired = true
		}
		if policy.MaxAge > 0 && time.Since(rec.CreatedAt) > policy.MaxAge {
			expired = true
		}
		if !expired {
			continue
		}
		if m.store.BackupReferenced(rec.ID) {
			m.log.WithFields(logrus.Fields{"host": hostID, "backup": rec.ID}).
				Debug("skipping referenced backup record")
			continue
		}

		if err := m.store.DeleteBackupRecord(rec.ID); err != nil {
			return removed, err
		}
		if err := m.store.DeleteSnapshot(rec.SnapshotID); err != nil &&
			!apperr.IsKind(err, apperr.Conflict) && !apperr.IsKind(err, apperr.NotFound) {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		m.log.WithFields(logrus.Fields{"host": hostID, "removed": removed}).Info("swept backups")
	}
	return removed, nil
}
