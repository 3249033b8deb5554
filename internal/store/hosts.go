// internal/store/hosts.go

package store

import (
	"sort"

	"fleetcfg/internal/apperr"
	"fleetcfg/internal/models"
)

// AddHost registers a new host.
func (s *Store) AddHost(h *models.Host) error {
	if err := h.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hosts[h.ID]; exists {
		return apperr.New(apperr.Conflict, "host %q already exists", h.ID)
	}
	s.hosts[h.ID] = h.Clone()
	return s.saveJSON(hostsFileName, s.hosts)
}

// UpdateHost replaces an existing host record.
func (s *Store) UpdateHost(h *models.Host) error {
	if err := h.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hosts[h.ID]; !exists {
		return apperr.New(apperr.NotFound, "host %q not found", h.ID)
	}
	s.hosts[h.ID] = h.Clone()
	return s.saveJSON(hostsFileName, s.hosts)
}

// RemoveHost deletes a host record.
func (s *Store) RemoveHost(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hosts[id]; !exists {
		return apperr.New(apperr.NotFound, "host %q not found", id)
	}
	delete(s.hosts, id)
	return s.saveJSON(hostsFileName, s.hosts)
}

// GetHost returns a copy of the host record.
func (s *Store) GetHost(id string) (*models.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "host %q not found", id)
	}
	return h.Clone(), nil
}

// ListHosts returns all hosts sorted by id.
func (s *Store) ListHosts() []*models.Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
