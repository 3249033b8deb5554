// internal/models/deployment.go

package models

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentPhase is the lifecycle state of one deployment attempt.
type DeploymentPhase string

const (
	PhaseRequested   DeploymentPhase = "requested"
	PhaseValidating  DeploymentPhase = "validating"
	PhaseBackingUp   DeploymentPhase = "backing_up"
	PhaseApplying    DeploymentPhase = "applying"
	PhaseVerifying   DeploymentPhase = "verifying"
	PhaseCommitted   DeploymentPhase = "committed"
	PhaseRollingBack DeploymentPhase = "rolling_back"
	PhaseRolledBack  DeploymentPhase = "rolled_back"
	PhaseFailed      DeploymentPhase = "failed"
	PhaseCanceled    DeploymentPhase = "canceled"
)

// Terminal reports whether the phase is final. A terminal deployment is
// never mutated again; a retry creates a new record.
func (p DeploymentPhase) Terminal() bool {
	switch p {
	case PhaseCommitted, PhaseRolledBack, PhaseFailed, PhaseCanceled:
		return true
	}
	return false
}

// Trigger records what initiated a deployment.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerWebhook   Trigger = "webhook"
)

// Deployment tracks one attempted application of a change set to a host
// through a terminal outcome.
type Deployment struct {
	ID            string                        `json:"id"`
	HostID        string                        `json:"host_id"`
	ChangeSet     map[string][]byte             `json:"change_set"`
	Trigger       Trigger                       `json:"trigger"`
	Phase         DeploymentPhase               `json:"phase"`
	SnapshotID    string                        `json:"snapshot_id,omitempty"`
	BackupID      string                        `json:"backup_id,omitempty"`
	PhaseTimes    map[DeploymentPhase]time.Time `json:"phase_times"`
	FailureReason string                        `json:"failure_reason,omitempty"`
	PartialPaths  []string                      `json:"partial_paths,omitempty"`
	AppliedPaths  []string                      `json:"applied_paths,omitempty"`
}

// NewDeployment creates a deployment record in the Requested phase.
func NewDeployment(hostID string, changeSet map[string][]byte, trigger Trigger) *Deployment {
	d := &Deployment{
		ID:         uuid.NewString(),
		HostID:     hostID,
		ChangeSet:  changeSet,
		Trigger:    trigger,
		Phase:      PhaseRequested,
		PhaseTimes: make(map[DeploymentPhase]time.Time),
	}
	d.PhaseTimes[PhaseRequested] = time.Now()
	return d
}

// EnterPhase moves the deployment to the given phase and stamps it.
func (d *Deployment) EnterPhase(p DeploymentPhase) {
	d.Phase = p
	d.PhaseTimes[p] = time.Now()
}

// Clone returns a deep copy safe to hand to callers while the machine
// keeps mutating the original.
func (d *Deployment) Clone() *Deployment {
	c := *d
	c.ChangeSet = make(map[string][]byte, len(d.ChangeSet))
	for p, b := range d.ChangeSet {
		c.ChangeSet[p] = append([]byte(nil), b...)
	}
	c.PhaseTimes = make(map[DeploymentPhase]time.Time, len(d.PhaseTimes))
	for p, t := range d.PhaseTimes {
		c.PhaseTimes[p] = t
	}
	c.PartialPaths = append([]string(nil), d.PartialPaths...)
	c.AppliedPaths = append([]string(nil), d.AppliedPaths...)
	return &c
}
