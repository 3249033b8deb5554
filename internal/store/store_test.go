package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

func testHost(id string) *models.Host {
	return &models.Host{
		ID:         id,
		Address:    "192.168.1.10",
		Port:       22,
		User:       "ha",
		AuthMethod: models.AuthPassword,
		SecretRef:  id + "-secret",
		Files:      []string{"/config/configuration.yaml", "/config/automations.yaml"},
	}
}

func testSnapshot(id, hostID string) *models.ConfigSnapshot {
	return &models.ConfigSnapshot{
		ID:        id,
		HostID:    hostID,
		CreatedAt: time.Now(),
		Files: map[string]models.FileState{
			"/config/configuration.yaml": {Content: []byte("homeassistant:\n"), Hash: "h1", Mode: 0644},
		},
	}
}

func TestHostRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	h := testHost("ha-1")
	require.NoError(t, s.AddHost(h))
	require.True(t, apperr.IsKind(s.AddHost(h), apperr.Conflict))

	// Survives reopen.
	s2, err := Open(dir)
	require.NoError(t, err)
	got, err := s2.GetHost("ha-1")
	require.NoError(t, err)
	require.Equal(t, h.Files, got.Files)

	require.NoError(t, s2.RemoveHost("ha-1"))
	_, err = s2.GetHost("ha-1")
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestSnapshotArchiveRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	snap := testSnapshot("snap-1", "ha-1")
	require.NoError(t, s.SaveSnapshot(snap, true))

	got, err := s.GetSnapshot("snap-1")
	require.NoError(t, err)
	require.Equal(t, snap.Files["/config/configuration.yaml"].Content,
		got.Files["/config/configuration.yaml"].Content)
	require.Equal(t, snap.Files["/config/configuration.yaml"].Mode,
		got.Files["/config/configuration.yaml"].Mode)

	cur, err := s.CurrentSnapshot("ha-1")
	require.NoError(t, err)
	require.Equal(t, "snap-1", cur.ID)
}

func TestCurrentPointerMovesHistoryAppends(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveSnapshot(testSnapshot("snap-1", "ha-1"), true))
	require.NoError(t, s.SaveSnapshot(testSnapshot("snap-2", "ha-1"), true))

	cur, err := s.CurrentSnapshot("ha-1")
	require.NoError(t, err)
	require.Equal(t, "snap-2", cur.ID)
	require.Equal(t, []string{"snap-1", "snap-2"}, s.ListSnapshotIDs("ha-1"))

	// Old snapshot is still retrievable history.
	_, err = s.GetSnapshot("snap-1")
	require.NoError(t, err)
}

func TestDeleteSnapshotProtectsCurrent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveSnapshot(testSnapshot("snap-1", "ha-1"), true))
	require.NoError(t, s.SaveSnapshot(testSnapshot("snap-2", "ha-1"), true))

	require.True(t, apperr.IsKind(s.DeleteSnapshot("snap-2"), apperr.Conflict))
	require.NoError(t, s.DeleteSnapshot("snap-1"))
	_, err = s.GetSnapshot("snap-1")
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestDeploymentLogTerminalImmutability(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	d := models.NewDeployment("ha-1", map[string][]byte{"/config/configuration.yaml": []byte("x")}, models.TriggerManual)
	require.NoError(t, s.SaveDeployment(d))

	active, ok := s.ActiveDeployment("ha-1")
	require.True(t, ok)
	require.Equal(t, d.ID, active.ID)

	d.EnterPhase(models.PhaseCommitted)
	require.NoError(t, s.SaveDeployment(d))

	_, ok = s.ActiveDeployment("ha-1")
	require.False(t, ok)

	// Terminal record refuses further writes.
	d.FailureReason = "tamper"
	require.True(t, apperr.IsKind(s.SaveDeployment(d), apperr.Conflict))
}

func TestBackupReferenceTracking(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	rec := models.NewBackupRecord("ha-1", "snap-1", models.RetentionScheduled)
	require.NoError(t, s.SaveBackupRecord(rec))

	d := models.NewDeployment("ha-1", nil, models.TriggerManual)
	d.BackupID = rec.ID
	require.NoError(t, s.SaveDeployment(d))
	require.True(t, s.BackupReferenced(rec.ID))

	d.EnterPhase(models.PhaseRolledBack)
	require.NoError(t, s.SaveDeployment(d))
	require.False(t, s.BackupReferenced(rec.ID))
}
