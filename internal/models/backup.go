// internal/models/backup.go

package models

import (
	"time"

	"github.com/google/uuid"
)

// RetentionClass distinguishes operator-requested snapshots from ones
// taken automatically before a deployment.
type RetentionClass string

const (
	RetentionManual    RetentionClass = "manual"
	RetentionScheduled RetentionClass = "scheduled"
)

// RetentionPolicy bounds how many or how old backups are kept per host.
// A zero field disables that bound.
type RetentionPolicy struct {
	MaxCount int           `json:"max_count" mapstructure:"max_count"`
	MaxAge   time.Duration `json:"max_age" mapstructure:"max_age"`
}

// BackupRecord ties a retained snapshot to its retention metadata.
type BackupRecord struct {
	ID         string         `json:"id"`
	HostID     string         `json:"host_id"`
	SnapshotID string         `json:"snapshot_id"`
	Class      RetentionClass `json:"class"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewBackupRecord creates a record for an already-stored snapshot.
func NewBackupRecord(hostID, snapshotID string, class RetentionClass) *BackupRecord {
	return &BackupRecord{
		ID:         uuid.NewString(),
		HostID:     hostID,
		SnapshotID: snapshotID,
		Class:      class,
		CreatedAt:  time.Now(),
	}
}
