// internal/deploy/machine.go
//
// The deployment state machine:
//
//	Requested -> Validating -> BackingUp -> Applying -> Verifying
//	    -> Committed
//	    -> RollingBack -> RolledBack
//	    -> Failed
//
// Every transition is recorded on the deployment before the next phase
// starts, so a crash leaves an honest log. Writes happen in declared
// file-set order; rollback restores touched paths in reverse order.

package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
	"fleetcfg/internal/syncer"
)

func (s *Service) run(ctx context.Context, host *models.Host, d *models.Deployment, r *runner) {
	log := s.log.WithFields(logrus.Fields{"host": host.ID, "deployment": d.ID})

	fail := func(err error) {
		d.FailureReason = err.Error()
		d.EnterPhase(models.PhaseFailed)
		_ = s.store.SaveDeployment(d)
		log.WithField("error", err).Error("deployment failed")
	}

	// Validating: purely local, no remote calls.
	d.EnterPhase(models.PhaseValidating)
	if err := s.store.SaveDeployment(d); err != nil {
		fail(err)
		return
	}
	if err := s.validate(host, d.ChangeSet); err != nil {
		fail(err)
		return
	}
	if s.canceled(r) {
		d.FailureReason = "canceled before any remote interaction"
		d.EnterPhase(models.PhaseCanceled)
		_ = s.store.SaveDeployment(d)
		log.Info("deployment canceled")
		return
	}

	err := s.sessions.WithSession(ctx, host.ID, func(ops FileOps) error {
		// BackingUp: fresh pre-change snapshot over the held session.
		d.EnterPhase(models.PhaseBackingUp)
		if err := s.store.SaveDeployment(d); err != nil {
			return err
		}
		phaseCtx, cancel := context.WithTimeout(ctx, s.opts.PhaseTimeout)
		defer cancel()

		preSnap, err := syncer.Snapshot(phaseCtx, host, ops)
		if err != nil {
			return apperr.Wrap(apperr.KindOf(err), err, "pre-change snapshot of %q", host.ID)
		}
		if err := s.store.SaveSnapshot(preSnap, true); err != nil {
			return err
		}
		rec, err := s.backups.Record(preSnap, models.RetentionScheduled)
		if err != nil {
			return err
		}
		d.SnapshotID = preSnap.ID
		d.BackupID = rec.ID
		if err := s.store.SaveDeployment(d); err != nil {
			return err
		}

		// Work out what actually changes; hash-equal content is never
		// rewritten.
		pending := orderChanges(host, syncer.Diff(preSnap, d.ChangeSet))
		if len(pending) == 0 {
			log.Info("change set matches current snapshot, nothing to apply")
			d.EnterPhase(models.PhaseCommitted)
			return s.store.SaveDeployment(d)
		}

		// Applying.
		d.EnterPhase(models.PhaseApplying)
		if err := s.store.SaveDeployment(d); err != nil {
			return err
		}
		applyErr := s.apply(phaseCtx, d, ops, pending)

		// Verifying.
		if applyErr == nil {
			d.EnterPhase(models.PhaseVerifying)
			if err := s.store.SaveDeployment(d); err != nil {
				return err
			}
			applyErr = s.verify(phaseCtx, host, d, ops)
		}

		if applyErr == nil {
			d.EnterPhase(models.PhaseCommitted)
			if err := s.commitSnapshot(host, preSnap, d); err != nil {
				return err
			}
			if err := s.store.SaveDeployment(d); err != nil {
				return err
			}
			log.WithField("paths", len(d.AppliedPaths)).Info("deployment committed")
			return nil
		}

		// Nothing was touched remotely yet if the failure predates any
		// write; that is a plain failure, not a rollback.
		if len(d.AppliedPaths) == 0 {
			return applyErr
		}

		d.EnterPhase(models.PhaseRollingBack)
		d.FailureReason = applyErr.Error()
		if err := s.store.SaveDeployment(d); err != nil {
			return err
		}
		rollbackCtx, cancelRB := context.WithTimeout(ctx, s.opts.PhaseTimeout)
		defer cancelRB()

		if err := s.rollback(rollbackCtx, d, ops, preSnap); err != nil {
			return err
		}
		d.EnterPhase(models.PhaseRolledBack)
		if err := s.store.SaveDeployment(d); err != nil {
			return err
		}
		log.WithField("reason", applyErr.Error()).Warn("deployment rolled back")
		return nil
	})

	if err != nil && !d.Phase.Terminal() {
		fail(err)
	}
}

// validate rejects paths outside the declared file set and runs the
// registered syntax validators. No remote interaction happens here.
func (s *Service) validate(host *models.Host, changeSet map[string][]byte) error {
	if len(changeSet) == 0 {
		return apperr.New(apperr.ValidationFailed, "change set is empty")
	}
	for p, content := range changeSet {
		if !host.InScope(p) {
			return apperr.New(apperr.ScopeViolation,
				"path %q is not in the declared file set of host %q", p, host.ID)
		}
		if v, ok := s.validatorFor(p); ok {
			if err := v(p, content); err != nil {
				return apperr.Wrap(apperr.ValidationFailed, err, "validating %s", p)
			}
		}
	}
	return nil
}

// orderChanges filters the diff down to writes and orders them by the
// host's declared file-set order for reproducibility.
func orderChanges(host *models.Host, changes []models.PathChange) []models.PathChange {
	byPath := make(map[string]models.PathChange, len(changes))
	for _, c := range changes {
		if c.Kind == models.ChangeAdded || c.Kind == models.ChangeModified {
			byPath[c.Path] = c
		}
	}
	ordered := make([]models.PathChange, 0, len(byPath))
	for _, p := range host.Files {
		if c, ok := byPath[p]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

// apply writes the pending changes in order, aborting on the first
// failure. Applied paths are recorded for rollback.
func (s *Service) apply(ctx context.Context, d *models.Deployment, ops FileOps, pending []models.PathChange) error {
	for _, change := range pending {
		if err := ops.WriteFileAtomic(ctx, change.Path, change.Content, change.Mode); err != nil {
			return err
		}
		d.AppliedPaths = append(d.AppliedPaths, change.Path)
		_ = s.store.SaveDeployment(d)
	}
	return nil
}

// verify re-reads every applied path and checks its hash against the
// requested content, then runs the external health probe if one is
// configured.
func (s *Service) verify(ctx context.Context, host *models.Host, d *models.Deployment, ops FileOps) error {
	for _, p := range d.AppliedPaths {
		var content []byte
		err := readWithRetry(ctx, ops, p, &content)
		if err != nil {
			return apperr.Wrap(apperr.VerificationFailed, err, "re-reading %s", p)
		}
		if syncer.HashContent(content) != syncer.HashContent(d.ChangeSet[p]) {
			return apperr.New(apperr.VerificationFailed,
				"content of %s does not match the requested change", p)
		}
	}
	if s.probe != nil {
		if err := s.probe(ctx, host.ID); err != nil {
			return apperr.Wrap(apperr.VerificationFailed, err, "health probe for %q", host.ID)
		}
	}
	return nil
}

// rollback restores applied paths from the pre-change snapshot in
// reverse apply order. Each path gets a bounded number of retries;
// paths that still fail are recorded and the deployment becomes a
// partial rollback, the one state requiring operator attention.
func (s *Service) rollback(ctx context.Context, d *models.Deployment, ops FileOps, preSnap *models.ConfigSnapshot) error {
	for i := len(d.AppliedPaths) - 1; i >= 0; i-- {
		p := d.AppliedPaths[i]
		state, existed := preSnap.Files[p]

		var lastErr error
		for attempt := 0; attempt <= s.opts.RollbackRetries; attempt++ {
			if !existed {
				// The path did not exist before this deployment;
				// restoring means emptying it out. Removal is not in
				// the engine's contract, an empty file is the closest
				// reversible state.
				lastErr = ops.WriteFileAtomic(ctx, p, nil, 0)
			} else {
				lastErr = ops.WriteFileAtomic(ctx, p, state.Content, state.Mode)
			}
			if lastErr == nil {
				break
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
		if lastErr != nil {
			d.PartialPaths = append(d.PartialPaths, p)
			s.log.WithFields(logrus.Fields{"deployment": d.ID, "path": p, "error": lastErr}).
				Error("rollback write failed after retries")
		}
	}

	if len(d.PartialPaths) > 0 {
		return apperr.New(apperr.PartialRollback,
			"rollback left %d of %d paths in an unknown state: %v",
			len(d.PartialPaths), len(d.AppliedPaths), d.PartialPaths)
	}
	return nil
}

// commitSnapshot derives the post-change snapshot from the pre-change
// one plus the applied change set and makes it the host's current.
func (s *Service) commitSnapshot(host *models.Host, preSnap *models.ConfigSnapshot, d *models.Deployment) error {
	post := &models.ConfigSnapshot{
		ID:        uuid.NewString(),
		HostID:    host.ID,
		CreatedAt: time.Now(),
		Files:     make(map[string]models.FileState, len(preSnap.Files)),
	}
	for p, f := range preSnap.Files {
		post.Files[p] = f
	}
	for _, p := range d.AppliedPaths {
		content := d.ChangeSet[p]
		mode := post.Files[p].Mode
		if mode == 0 {
			mode = 0644
		}
		post.Files[p] = models.FileState{
			Content: append([]byte(nil), content...),
			Hash:    syncer.HashContent(content),
			Mode:    mode,
		}
	}
	if err := s.store.SaveSnapshot(post, true); err != nil {
		return fmt.Errorf("failed to store post-deployment snapshot: %v", err)
	}
	return nil
}

// readWithRetry is a small helper so verification reads survive
// transient transport hiccups like the other idempotent operations.
func readWithRetry(ctx context.Context, ops FileOps, path string, out *[]byte) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		content, _, err := ops.ReadFile(ctx, path)
		if err == nil {
			*out = content
			return nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return lastErr
}
