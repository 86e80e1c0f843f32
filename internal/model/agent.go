// Package model defines the core domain types for the coordination engine.
//
// Types correspond directly to the persisted collections (agents,
// work_claims, coordination_log, telemetry_spans). Field names and enum
// values are wire-stable: external consumers read the persisted state
// directly and must see exactly these names.
package model

import (
	"fmt"
	"time"
)

// AgentStatus represents the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentIdle    AgentStatus = "idle"
	AgentError   AgentStatus = "error"
	AgentOffline AgentStatus = "offline"
)

// ValidAgentStatus reports whether s is one of the known agent states.
func ValidAgentStatus(s AgentStatus) bool {
	switch s {
	case AgentActive, AgentIdle, AgentError, AgentOffline:
		return true
	}
	return false
}

// Agent is a registered autonomous worker. AgentID is immutable after
// registration; Status and LastHeartbeat are mutated only by heartbeat and
// status-update operations issued by the agent itself. The engine never
// deletes agents — they are retained for audit.
type Agent struct {
	AgentID         string         `json:"agent_id"`
	Team            string         `json:"team,omitempty"`
	Status          AgentStatus    `json:"status"`
	Capabilities    []string       `json:"capabilities"`
	Capacity        int            `json:"capacity"`
	CurrentWorkload int            `json:"current_workload"`
	LastHeartbeat   time.Time      `json:"last_heartbeat"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	RegisteredAt    time.Time      `json:"registered_at"`
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ValidateCapability checks that a capability label conforms to the allowed
// format. Capabilities must start with a lowercase letter and contain only
// lowercase alphanumeric characters, hyphens, and underscores.
func ValidateCapability(capability string) error {
	if len(capability) == 0 {
		return fmt.Errorf("capability must not be empty")
	}
	if len(capability) > 64 {
		return fmt.Errorf("capability must be at most 64 characters")
	}
	for i := 0; i < len(capability); i++ {
		c := capability[i]
		if i == 0 {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("capability must start with a lowercase letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return fmt.Errorf("capability contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
