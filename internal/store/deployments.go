// internal/store/deployments.go

package store

import (
	"sort"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

// SaveDeployment inserts or updates a deployment record. Records that
// already reached a terminal phase are immutable.
func (s *Store) SaveDeployment(d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.deployments[d.ID]; ok && existing.Phase.Terminal() {
		return apperr.New(apperr.Conflict, "deployment %s is terminal and cannot be modified", d.ID)
	}
	s.deployments[d.ID] = d.Clone()
	return s.saveJSON(deploymentsFileName, s.deployments)
}

// GetDeployment returns a copy of one deployment record.
func (s *Store) GetDeployment(id string) (*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "deployment %q not found", id)
	}
	return d.Clone(), nil
}

// ListDeployments returns the host's deployments, newest first. An empty
// hostID lists all hosts.
func (s *Store) ListDeployments(hostID string) []*models.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		if hostID == "" || d.HostID == hostID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PhaseTimes[models.PhaseRequested].After(out[j].PhaseTimes[models.PhaseRequested])
	})
	return out
}

// ActiveDeployment returns the host's non-terminal deployment, if any.
func (s *Store) ActiveDeployment(hostID string) (*models.Deployment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deployments {
		if d.HostID == hostID && !d.Phase.Terminal() {
			return d.Clone(), true
		}
	}
	return nil, false
}

// BackupReferenced reports whether any non-terminal deployment holds a
// reference to the given backup record.
func (s *Store) BackupReferenced(backupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deployments {
		if d.BackupID == backupID && !d.Phase.Terminal() {
			return true
		}
	}
	return false
}
