// internal/deploy/service.go
//
// Deployment and snapshot API exposed to outer layers: request, status,
// cancel, restore-from-backup and pull. Requests are serialized per
// host; a second request while one deployment is non-terminal gets
// Conflict.

package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/backup"
	"fleetcfg/internal/models"
	"fleetcfg/internal/store"
	"fleetcfg/internal/syncer"
)

// Options tune the state machine's policies.
type Options struct {
	// RollbackRetries is how many times a failed rollback write is
	// retried per path before the deployment is marked as a partial
	// rollback.
	RollbackRetries int
	// PhaseTimeout bounds each remote phase of one deployment.
	PhaseTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.RollbackRetries == 0 {
		out.RollbackRetries = 2
	}
	if out.PhaseTimeout == 0 {
		out.PhaseTimeout = 2 * time.Minute
	}
	return out
}

// runner tracks one in-flight deployment.
type runner struct {
	cancelRequested bool
	done            chan struct{}
}

// Service runs the deployment state machine and exposes the deployment
// and snapshot APIs.
type Service struct {
	store    *store.Store
	sessions Sessions
	backups  *backup.Manager
	syncer   *syncer.Engine
	opts     Options
	probe    HealthProbe
	log      *logrus.Entry

	validators map[string]Validator

	mu      sync.Mutex
	runners map[string]*runner // deployment id -> runner
}

// NewService creates the deployment service. The sync engine may be nil
// when the service is driven purely through WithSession-based pulls
// (tests); PullConfig then returns an error.
func NewService(st *store.Store, sessions Sessions, backups *backup.Manager, sy *syncer.Engine, opts Options) *Service {
	s := &Service{
		store:      st,
		sessions:   sessions,
		backups:    backups,
		syncer:     sy,
		opts:       opts.withDefaults(),
		log:        logrus.WithField("component", "deploy"),
		validators: make(map[string]Validator),
		runners:    make(map[string]*runner),
	}
	s.RegisterValidator(".yaml", YAMLValidator)
	s.RegisterValidator(".yml", YAMLValidator)
	return s
}

// SetHealthProbe installs the optional service-reachability probe run
// during Verifying.
func (s *Service) SetHealthProbe(p HealthProbe) {
	s.probe = p
}

// Request starts a deployment for the host and returns its id. The
// machine runs in the background; use Status or Wait to observe it.
func (s *Service) Request(ctx context.Context, hostID string, changeSet map[string][]byte, trigger models.Trigger) (string, error) {
	host, err := s.store.GetHost(hostID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if active, ok := s.store.ActiveDeployment(hostID); ok {
		s.mu.Unlock()
		return "", apperr.New(apperr.Conflict,
			"deployment %s is already active for host %q", active.ID, hostID)
	}
	d := models.NewDeployment(hostID, changeSet, trigger)
	if err := s.store.SaveDeployment(d); err != nil {
		s.mu.Unlock()
		return "", err
	}
	r := &runner{done: make(chan struct{})}
	s.runners[d.ID] = r
	s.mu.Unlock()

	go func() {
		defer close(r.done)
		s.run(context.WithoutCancel(ctx), host, d, r)
		s.mu.Lock()
		delete(s.runners, d.ID)
		s.mu.Unlock()
	}()
	return d.ID, nil
}

// Status returns the deployment record.
func (s *Service) Status(id string) (*models.Deployment, error) {
	return s.store.GetDeployment(id)
}

// List returns deployments for a host (all hosts when hostID is empty),
// newest first.
func (s *Service) List(hostID string) []*models.Deployment {
	return s.store.ListDeployments(hostID)
}

// Wait blocks until the deployment reaches a terminal phase.
func (s *Service) Wait(id string) (*models.Deployment, error) {
	s.mu.Lock()
	r, ok := s.runners[id]
	s.mu.Unlock()
	if ok {
		<-r.done
	}
	return s.store.GetDeployment(id)
}

// Cancel requests cancellation. Only a deployment still in Requested or
// Validating can be canceled; anything later must run to a terminal
// state so remote state stays unambiguous.
func (s *Service) Cancel(id string) error {
	d, err := s.store.GetDeployment(id)
	if err != nil {
		return err
	}
	switch d.Phase {
	case models.PhaseRequested, models.PhaseValidating:
	default:
		return apperr.New(apperr.Conflict,
			"deployment %s is in phase %s and can no longer be canceled", id, d.Phase)
	}

	s.mu.Lock()
	if r, ok := s.runners[id]; ok {
		r.cancelRequested = true
	}
	s.mu.Unlock()
	return nil
}

// RestoreFrom deploys the content of a retained backup: a regular
// deployment whose change set equals the backup snapshot.
func (s *Service) RestoreFrom(ctx context.Context, hostID, backupID string) (string, error) {
	rec, err := s.backups.Get(backupID)
	if err != nil {
		return "", err
	}
	if rec.HostID != hostID {
		return "", apperr.New(apperr.ScopeViolation,
			"backup %s belongs to host %q, not %q", backupID, rec.HostID, hostID)
	}
	snap, err := s.store.GetSnapshot(rec.SnapshotID)
	if err != nil {
		return "", err
	}
	return s.Request(ctx, hostID, snap.ContentMap(), models.TriggerManual)
}

// PullConfig refreshes and returns the host's current snapshot.
func (s *Service) PullConfig(ctx context.Context, hostID string) (*models.ConfigSnapshot, error) {
	if s.syncer == nil {
		return nil, apperr.New(apperr.Internal, "pull is not wired in this service instance")
	}
	return s.syncer.Pull(ctx, hostID)
}

func (s *Service) canceled(r *runner) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.cancelRequested
}
