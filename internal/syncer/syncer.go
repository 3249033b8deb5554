// internal/syncer/syncer.go
//
// Pulls the declared file set of a host into a versioned snapshot and
// classifies change sets against it. Classification is purely
// hash-based: byte-identical content is Unchanged and never triggers a
// remote write, which is what makes deployments idempotent.

package syncer

import (
	"context"
	"encoding/hex"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"fleetcfg/internal/conn"
	"fleetcfg/internal/models"
	"fleetcfg/internal/store"
	"fleetcfg/internal/transfer"
)

// FileReader is the slice of the transfer engine Pull needs; tests
// substitute a fake remote.
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, os.FileMode, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// HashContent returns the stable content hash used across snapshots and
// diffs. Same bytes always produce the same hash.
func HashContent(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Engine builds snapshots over the connection manager and persists them
// through the store.
type Engine struct {
	conns *conn.Manager
	store *store.Store
	log   *logrus.Entry
}

// NewEngine creates a synchronization engine.
func NewEngine(conns *conn.Manager, st *store.Store) *Engine {
	return &Engine{
		conns: conns,
		store: st,
		log:   logrus.WithField("component", "syncer"),
	}
}

// Pull reads every declared file of the host, stores the result as the
// host's new current snapshot and returns it. The prior current becomes
// history.
func (e *Engine) Pull(ctx context.Context, hostID string) (*models.ConfigSnapshot, error) {
	host, err := e.store.GetHost(hostID)
	if err != nil {
		return nil, err
	}

	sess, err := e.conns.Acquire(ctx, hostID)
	if err != nil {
		return nil, err
	}
	defer e.conns.Release(sess)

	ft, err := transfer.NewEngine(sess)
	if err != nil {
		return nil, err
	}

	snap, err := Snapshot(ctx, host, ft)
	if err != nil {
		e.conns.Invalidate(sess)
		return nil, err
	}
	if err := e.store.SaveSnapshot(snap, true); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"host": hostID, "snapshot": snap.ID, "files": len(snap.Files)}).
		Info("pulled configuration snapshot")
	return snap, nil
}

// Snapshot builds a snapshot from an arbitrary FileReader. Reads are
// idempotent and retried on transient transport failures; declared
// files missing on the remote are simply absent from the snapshot.
func Snapshot(ctx context.Context, host *models.Host, fr FileReader) (*models.ConfigSnapshot, error) {
	snap := &models.ConfigSnapshot{
		ID:        uuid.NewString(),
		HostID:    host.ID,
		CreatedAt: time.Now(),
		Files:     make(map[string]models.FileState),
	}

	for _, p := range host.Files {
		var exists bool
		err := conn.RetryIdempotent(ctx, func() error {
			var err error
			exists, err = fr.Exists(ctx, p)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		var content []byte
		var mode os.FileMode
		err = conn.RetryIdempotent(ctx, func() error {
			var err error
			content, mode, err = fr.ReadFile(ctx, p)
			return err
		})
		if err != nil {
			return nil, err
		}
		snap.Files[p] = models.FileState{
			Content: content,
			Hash:    HashContent(content),
			Mode:    mode,
		}
	}
	return snap, nil
}

// Diff classifies newContent against an old snapshot. Paths only in
// newContent are Added; hash-equal paths are Unchanged; hash-different
// paths are Modified; snapshot paths absent from newContent are
// Removed. A nil old snapshot classifies everything as Added.
func Diff(old *models.ConfigSnapshot, newContent map[string][]byte) []models.PathChange {
	changes := make([]models.PathChange, 0, len(newContent))

	for p, content := range newContent {
		change := models.PathChange{Path: p, Content: content}
		switch {
		case old == nil:
			change.Kind = models.ChangeAdded
		default:
			state, ok := old.Files[p]
			switch {
			case !ok:
				change.Kind = models.ChangeAdded
			case state.Hash == HashContent(content):
				change.Kind = models.ChangeUnchanged
				change.Mode = state.Mode
			default:
				change.Kind = models.ChangeModified
				change.Mode = state.Mode
			}
		}
		changes = append(changes, change)
	}

	if old != nil {
		for p := range old.Files {
			if _, ok := newContent[p]; !ok {
				changes = append(changes, models.PathChange{Path: p, Kind: models.ChangeRemoved})
			}
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}
