package backup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"fleetcfg/internal/models"
	"fleetcfg/internal/store"
)

type stubPuller struct {
	hostID string
}

func (p *stubPuller) Pull(_ context.Context, hostID string) (*models.ConfigSnapshot, error) {
	return &models.ConfigSnapshot{
		ID:        uuid.NewString(),
		HostID:    hostID,
		CreatedAt: time.Now(),
		Files: map[string]models.FileState{
			"/config/configuration.yaml": {Content: []byte("a"), Hash: "h", Mode: 0644},
		},
	}, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return st
}

func saveSnap(t *testing.T, st *store.Store, hostID string) *models.ConfigSnapshot {
	t.Helper()
	snap := &models.ConfigSnapshot{
		ID:        uuid.NewString(),
		HostID:    hostID,
		CreatedAt: time.Now(),
		Files:     map[string]models.FileState{},
	}
	require.NoError(t, st.SaveSnapshot(snap, true))
	return snap
}

func TestSnapshotNowRecordsBackup(t *testing.T) {
	st := openStore(t)
	m := NewManager(st, &stubPuller{}, DefaultPolicies())

	rec, err := m.SnapshotNow(context.Background(), "ha-1", models.RetentionManual)
	require.NoError(t, err)
	require.Equal(t, "ha-1", rec.HostID)
	require.Equal(t, models.RetentionManual, rec.Class)

	list := m.List("ha-1")
	require.Len(t, list, 1)
	require.Equal(t, rec.ID, list[0].ID)
}

func TestSweepCountPolicy(t *testing.T) {
	st := openStore(t)
	m := NewManager(st, &stubPuller{}, Policies{Scheduled: models.RetentionPolicy{MaxCount: 2}})

	var recs []*models.BackupRecord
	for i := 0; i < 4; i++ {
		snap := saveSnap(t, st, "ha-1")
		rec := models.NewBackupRecord("ha-1", snap.ID, models.RetentionScheduled)
		rec.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, st.SaveBackupRecord(rec))
		recs = append(recs, rec)
	}

	removed, err := m.Sweep("ha-1")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	left := m.List("ha-1")
	require.Len(t, left, 2)
	// Newest two survive.
	require.Equal(t, recs[3].ID, left[0].ID)
	require.Equal(t, recs[2].ID, left[1].ID)
}

func TestSweepAgePolicy(t *testing.T) {
	st := openStore(t)
	m := NewManager(st, &stubPuller{}, Policies{Scheduled: models.RetentionPolicy{MaxAge: time.Hour}})

	fresh := models.NewBackupRecord("ha-1", saveSnap(t, st, "ha-1").ID, models.RetentionScheduled)
	require.NoError(t, st.SaveBackupRecord(fresh))

	stale := models.NewBackupRecord("ha-1", saveSnap(t, st, "ha-1").ID, models.RetentionScheduled)
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, st.SaveBackupRecord(stale))

	removed, err := m.Sweep("ha-1")
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Len(t, m.List("ha-1"), 1)
	require.Equal(t, fresh.ID, m.List("ha-1")[0].ID)
}

func TestSweepNeverRemovesReferencedRecord(t *testing.T) {
	st := openStore(t)
	m := NewManager(st, &stubPuller{}, Policies{Scheduled: models.RetentionPolicy{MaxCount: 1}})

	old := models.NewBackupRecord("ha-1", saveSnap(t, st, "ha-1").ID, models.RetentionScheduled)
	old.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, st.SaveBackupRecord(old))

	newer := models.NewBackupRecord("ha-1", saveSnap(t, st, "ha-1").ID, models.RetentionScheduled)
	require.NoError(t, st.SaveBackupRecord(newer))

	// A non-terminal deployment still references the older record.
	d := models.NewDeployment("ha-1", nil, models.TriggerManual)
	d.BackupID = old.ID
	d.EnterPhase(models.PhaseApplying)
	require.NoError(t, st.SaveDeployment(d))

	removed, err := m.Sweep("ha-1")
	require.NoError(t, err)
	require.Equal(t, 0, removed)
	require.Len(t, m.List("ha-1"), 2)

	// Once the deployment is terminal the record becomes prunable.
	d.EnterPhase(models.PhaseCommitted)
	require.NoError(t, st.SaveDeployment(d))

	removed, err = m.Sweep("ha-1")
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestSweepIdempotent(t *testing.T) {
	st := openStore(t)
	m := NewManager(st, &stubPuller{}, Policies{Scheduled: models.RetentionPolicy{MaxCount: 1}})

	for i := 0; i < 3; i++ {
		rec := models.NewBackupRecord("ha-1", saveSnap(t, st, "ha-1").ID, models.RetentionScheduled)
		rec.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, st.SaveBackupRecord(rec))
	}

	removed, err := m.Sweep("ha-1")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removed, err = m.Sweep("ha-1")
	require.NoError(t, err)
	require.Equal(t, 0, removed)
}
