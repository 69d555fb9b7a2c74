package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Proposal is a governance-relevant action awaiting a verdict. TargetRole is
// normalized at the boundary: callers may supply it at the top level or
// nested under payload.target_role, but authorizers only ever see this field.
type Proposal struct {
	ProposalType        string         `json:"proposal_type"`
	FromRole            string         `json:"from_role"`
	TargetRole          string         `json:"target_role,omitempty"`
	Timestamp           string         `json:"timestamp" format:"date-time"`
	RequiresCEOApproval bool           `json:"requires_ceo_approval,omitempty"`
	Payload             map[string]any `json:"payload,omitempty"`
}

// SchemaError reports required proposal fields missing from the raw input.
type SchemaError struct {
	Missing []string
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("missing required fields: [%s]", strings.Join(e.Missing, ", "))
}

// ParseProposal decodes a raw proposal document, enforces the required-field
// schema (proposal_type, from_role, timestamp must be present), and resolves
// target_role from the payload when absent at the top level.
func ParseProposal(data []byte) (Proposal, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Proposal{}, fmt.Errorf("invalid proposal JSON: %w", err)
	}
	var missing []string
	for _, f := range []string{"proposal_type", "from_role", "timestamp"} {
		if _, ok := raw[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Proposal{}, SchemaError{Missing: missing}
	}
	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return Proposal{}, fmt.Errorf("invalid proposal JSON: %w", err)
	}
	if p.TargetRole == "" {
		if v, ok := p.Payload["target_role"].(string); ok {
			p.TargetRole = v
		}
	}
	return p, nil
}

// TaskUpdateRequest describes a transition the external task system wants to
// apply. The acting role arrives out of band; task existence and prior state
// are owned by that system, not by this core.
type TaskUpdateRequest struct {
	TaskID string `json:"taskId,omitempty"`
	Status string `json:"status,omitempty" enum:"pending,in_progress,completed,deleted"`
	Owner  string `json:"owner,omitempty"`
}

// Notification is one mailbox deposit.
type Notification struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
	Actor  string `json:"actor"`
	TS     string `json:"timestamp" format:"date-time"`
}

// InboxRecord is a durable, append-only mailbox entry. IDs are UUIDs so
// concurrent writers within the same timestamp never collide.
type InboxRecord struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Type        string `json:"type"`
	TaskID      string `json:"task_id,omitempty"`
	ActorID     string `json:"actor_id"`
	TS          string `json:"ts" format:"date-time"`
	PayloadJSON string `json:"payload_json,omitempty"`
}

// SyncState is the durable view of how many state-changing events each task
// has undergone. TaskVersions[t] increases by exactly one per processed event.
type SyncState struct {
	LastUpdated  string           `json:"last_updated,omitempty" format:"date-time"`
	TaskVersions map[string]int64 `json:"task_versions"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Role is a roster entry. The roster is advisory: mailboxes for unknown
// roles stay writable unless a roster is configured.
type Role struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
