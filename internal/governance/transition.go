package governance

import (
	"fmt"

	"steward/internal/config"
	"steward/internal/domain"
)

// Task statuses this core authorizes against.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusDeleted    = "deleted"
)

// OwnerSentinel in a complete-task allow-set admits any requester. Actual
// ownership lives in the external task system and is deliberately not
// resolved here; removing the sentinel from the matrix restores strict
// role matching.
const OwnerSentinel = "owner"

// Default allow-sets used when the matrix omits the action.
var (
	defaultCompleteRoles = []string{OwnerSentinel, "senior-dev", "tech-lead"}
	defaultDeleteRoles   = []string{"tech-lead", "architect", "cto"}
)

// AuthorizeTaskUpdate decides whether role may apply the requested task
// transition. Rules evaluate in order; the first match wins:
//
//   - no task id: nothing to authorize, allowed;
//   - completed: role must be in the complete_task allow-set (or the set
//     must carry the owner sentinel);
//   - in_progress: claiming is unrestricted;
//   - deleted: role must be in the delete_task allow-set;
//   - owner reassignment from any other status: tech-lead or orchestrator
//     only;
//   - otherwise allowed.
//
// A nil matrix fails open: every transition is allowed with an explicit
// "no governance" reason, never silently.
func AuthorizeTaskUpdate(req domain.TaskUpdateRequest, role string, m *config.Matrix) Verdict {
	if m == nil {
		return Verdict{Allowed, "No governance matrix"}
	}
	if req.TaskID == "" {
		return Verdict{Allowed, "No task ID, allowing"}
	}

	switch req.Status {
	case StatusCompleted:
		allowed := m.TaskPermissions.CompleteTask
		if allowed == nil {
			allowed = defaultCompleteRoles
		}
		if contains(allowed, role) || contains(allowed, OwnerSentinel) {
			return Verdict{Allowed, fmt.Sprintf("Role %s can complete tasks", role)}
		}
		return Verdict{Blocked, fmt.Sprintf("Role %s cannot complete tasks", role)}

	case StatusInProgress:
		return Verdict{Allowed, "Starting task is allowed"}

	case StatusDeleted:
		allowed := m.TaskPermissions.DeleteTask
		if allowed == nil {
			allowed = defaultDeleteRoles
		}
		if contains(allowed, role) {
			return Verdict{Allowed, fmt.Sprintf("Role %s can delete tasks", role)}
		}
		return Verdict{Blocked, fmt.Sprintf("Role %s cannot delete tasks", role)}
	}

	if req.Owner != "" && role != "tech-lead" && role != "orchestrator" {
		return Verdict{Blocked, "Only tech-lead or orchestrator can reassign tasks"}
	}

	return Verdict{Allowed, "Update allowed"}
}
