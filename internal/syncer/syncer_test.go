package syncer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

// fakeReader serves file content from a map, optionally failing the
// first n reads with a transport error.
type fakeReader struct {
	files     map[string]string
	flakyLeft int
	reads     int
}

func (f *fakeReader) ReadFile(_ context.Context, path string) ([]byte, os.FileMode, error) {
	f.reads++
	if f.flakyLeft > 0 {
		f.flakyLeft--
		return nil, 0, apperr.New(apperr.ConnectionLost, "flaky read of %s", path)
	}
	content, ok := f.files[path]
	if !ok {
		return nil, 0, apperr.New(apperr.TransferFailed, "missing %s", path)
	}
	return []byte(content), 0644, nil
}

func (f *fakeReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func declaredHost(files ...string) *models.Host {
	return &models.Host{
		ID:         "ha-1",
		Address:    "10.0.0.5",
		Port:       22,
		User:       "ha",
		AuthMethod: models.AuthPassword,
		SecretRef:  "ha-1",
		Files:      files,
	}
}

func TestHashContentStable(t *testing.T) {
	a := HashContent([]byte("homeassistant:\n"))
	b := HashContent([]byte("homeassistant:\n"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, HashContent([]byte("homeassistant: {}\n")))
}

func TestSnapshotCapturesDeclaredSet(t *testing.T) {
	host := declaredHost("/config/a.yaml", "/config/b.yaml")
	fr := &fakeReader{files: map[string]string{
		"/config/a.yaml": "x",
		"/config/b.yaml": "y",
	}}

	snap, err := Snapshot(context.Background(), host, fr)
	require.NoError(t, err)
	require.Equal(t, "ha-1", snap.HostID)
	require.Len(t, snap.Files, 2)
	require.Equal(t, HashContent([]byte("x")), snap.Files["/config/a.yaml"].Hash)
	require.Equal(t, os.FileMode(0644), snap.Files["/config/a.yaml"].Mode)
}

func TestSnapshotSkipsMissingFiles(t *testing.T) {
	host := declaredHost("/config/a.yaml", "/config/gone.yaml")
	fr := &fakeReader{files: map[string]string{"/config/a.yaml": "x"}}

	snap, err := Snapshot(context.Background(), host, fr)
	require.NoError(t, err)
	require.Len(t, snap.Files, 1)
	require.NotContains(t, snap.Files, "/config/gone.yaml")
}

func TestSnapshotRetriesTransientReadFailures(t *testing.T) {
	host := declaredHost("/config/a.yaml")
	fr := &fakeReader{
		files:     map[string]string{"/config/a.yaml": "x"},
		flakyLeft: 2,
	}

	snap, err := Snapshot(context.Background(), host, fr)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), snap.Files["/config/a.yaml"].Content)
	require.Equal(t, 3, fr.reads)
}

func TestDiffClassification(t *testing.T) {
	old := &models.ConfigSnapshot{
		ID:        "snap-1",
		HostID:    "ha-1",
		CreatedAt: time.Now(),
		Files: map[string]models.FileState{
			"/config/a.yaml": {Content: []byte("x"), Hash: HashContent([]byte("x")), Mode: 0644},
			"/config/b.yaml": {Content: []byte("y"), Hash: HashContent([]byte("y")), Mode: 0600},
		},
	}

	changes := Diff(old, map[string][]byte{
		"/config/a.yaml": []byte("x2"),
		"/config/c.yaml": []byte("z"),
	})

	kinds := map[string]models.ChangeKind{}
	for _, c := range changes {
		kinds[c.Path] = c.Kind
	}
	require.Equal(t, models.ChangeModified, kinds["/config/a.yaml"])
	require.Equal(t, models.ChangeRemoved, kinds["/config/b.yaml"])
	require.Equal(t, models.ChangeAdded, kinds["/config/c.yaml"])
}

func TestDiffIdempotence(t *testing.T) {
	content := map[string][]byte{
		"/config/a.yaml": []byte("x"),
		"/config/b.yaml": []byte("y"),
	}
	old := &models.ConfigSnapshot{
		Files: map[string]models.FileState{
			"/config/a.yaml": {Hash: HashContent([]byte("x"))},
			"/config/b.yaml": {Hash: HashContent([]byte("y"))},
		},
	}

	for _, c := range Diff(old, content) {
		require.Equal(t, models.ChangeUnchanged, c.Kind,
			"re-applying the current content must not produce %s for %s", c.Kind, c.Path)
	}
}

func TestDiffAgainstNilSnapshot(t *testing.T) {
	changes := Diff(nil, map[string][]byte{"/config/a.yaml": []byte("x")})
	require.Len(t, changes, 1)
	require.Equal(t, models.ChangeAdded, changes[0].Kind)
}

func TestDiffPreservesModeForKnownPaths(t *testing.T) {
	old := &models.ConfigSnapshot{
		Files: map[string]models.FileState{
			"/config/a.yaml": {Hash: HashContent([]byte("x")), Mode: 0600},
		},
	}
	changes := Diff(old, map[string][]byte{"/config/a.yaml": []byte("x2")})
	require.Equal(t, os.FileMode(0600), changes[0].Mode)
}
