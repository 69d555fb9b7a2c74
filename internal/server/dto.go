package server

import (
	"steward/internal/domain"
	"steward/internal/governance"
	"steward/internal/handoff"
)

// Request payloads

type ProposalCheckRequest struct {
	ProposalType        string         `json:"proposal_type"`
	FromRole            string         `json:"from_role"`
	Timestamp           string         `json:"timestamp" format:"date-time"`
	TargetRole          *string        `json:"target_role,omitempty"`
	RequiresCEOApproval bool           `json:"requires_ceo_approval,omitempty"`
	Payload             map[string]any `json:"payload,omitempty"`
}

type TransitionCheckRequest struct {
	TaskID string  `json:"taskId,omitempty"`
	Status *string `json:"status,omitempty"`
	Owner  *string `json:"owner,omitempty"`
	Role   string  `json:"role,omitempty"`
}

type HandoffValidationRequest struct {
	Path     string `json:"path"`
	FromRole string `json:"from_role"`
	ToRole   string `json:"to_role"`
}

type SyncNotificationRequest struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Actor  string `json:"actor,omitempty"`
}

// Response payloads

type VerdictResponse struct {
	Outcome string `json:"outcome" enum:"AUTO_APPROVE,REVIEW_REQUIRED,ALLOWED,BLOCKED"`
	Reason  string `json:"reason"`
}

type HandoffReportResponse struct {
	Valid    bool     `json:"valid"`
	FromRole string   `json:"from_role"`
	ToRole   string   `json:"to_role"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type NotificationResponse struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	Actor  string `json:"actor,omitempty"`
	TS     string `json:"ts" format:"date-time"`
}

type SyncResultResponse struct {
	TaskID        string                 `json:"taskId"`
	Version       int64                  `json:"version"`
	Notifications []NotificationResponse `json:"notifications"`
}

type InboxRecordResponse struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Type    string `json:"type"`
	TaskID  string `json:"taskId,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	TS      string `json:"ts" format:"date-time"`
}

type SyncStateResponse struct {
	LastUpdated  string           `json:"last_updated,omitempty" format:"date-time"`
	TaskVersions map[string]int64 `json:"task_versions"`
}

type RoleResponse struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

func verdictResponse(v governance.Verdict) VerdictResponse {
	return VerdictResponse{Outcome: string(v.Outcome), Reason: v.Reason}
}

func handoffResponse(rep handoff.Report) HandoffReportResponse {
	return HandoffReportResponse{
		Valid:    rep.Valid,
		FromRole: rep.FromRole,
		ToRole:   rep.ToRole,
		Errors:   rep.Errors,
		Warnings: rep.Warnings,
	}
}

func notificationResponses(items []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, NotificationResponse{Type: n.Type, TaskID: n.TaskID, Actor: n.Actor, TS: n.TS})
	}
	return out
}

func inboxResponses(items []domain.InboxRecord) []InboxRecordResponse {
	out := make([]InboxRecordResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, InboxRecordResponse{
			ID:      rec.ID,
			Role:    rec.Role,
			Type:    rec.Type,
			TaskID:  rec.TaskID,
			ActorID: rec.ActorID,
			TS:      rec.TS,
		})
	}
	return out
}

func roleResponses(items []domain.Role) []RoleResponse {
	out := make([]RoleResponse, 0, len(items))
	for _, r := range items {
		out = append(out, RoleResponse{ID: r.ID, Description: r.Description, CreatedAt: r.CreatedAt})
	}
	return out
}
