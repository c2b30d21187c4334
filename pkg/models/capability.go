// Package models holds the wire-level types shared across Overstory's
// coordination-core packages: the agent capability enum, structured
// event shape, and watchdog thresholds that session, mail, and
// watchdog all need without importing one another.
package models

// Capability represents the role an agent plays in the hierarchy.
// It determines which prompt templates and escalation rules apply,
// and which capabilities are excluded from run-completion accounting.
type Capability string

const (
	CapabilityScout       Capability = "scout"
	CapabilityBuilder     Capability = "builder"
	CapabilityReviewer    Capability = "reviewer"
	CapabilityLead        Capability = "lead"
	CapabilityMerger      Capability = "merger"
	CapabilityCoordinator Capability = "coordinator"
	CapabilitySupervisor  Capability = "supervisor"
)

// Valid returns true if c is one of the known capabilities.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityScout, CapabilityBuilder, CapabilityReviewer, CapabilityLead,
		CapabilityMerger, CapabilityCoordinator, CapabilitySupervisor:
		return true
	default:
		return false
	}
}

// Persistent returns true if sessions of this capability are excluded
// from run-completion accounting (§4.6) because they outlive any
// single run: coordinator and monitor.
func (c Capability) Persistent() bool {
	switch c {
	case CapabilityCoordinator, "monitor":
		return true
	default:
		return false
	}
}

// CoordinatesDispatch returns true for capabilities that should wake
// on a pending nudge during long-poll mail wait (§4.4), not just on
// actual mail: coordinator and lead.
func (c Capability) CoordinatesDispatch() bool {
	switch c {
	case CapabilityCoordinator, CapabilityLead:
		return true
	default:
		return false
	}
}
