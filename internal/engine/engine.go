package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"steward/internal/config"
	"steward/internal/domain"
	"steward/internal/events"
	"steward/internal/governance"
	"steward/internal/handoff"
	"steward/internal/repo"
)

// Engine runs one load/compute/store cycle per decision. The matrix is an
// immutable snapshot taken when the engine was built; authorizers stay pure
// and the engine owns persistence and the audit trail.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Matrix *config.Matrix
	Now    func() time.Time
}

// The orchestrator mailbox receives all task lifecycle notifications.
// Fan-out to roles blocked on a task needs a dependency graph this core
// does not maintain; that extension point stays external.
const orchestratorRole = "orchestrator"

func New(db *sql.DB, matrix *config.Matrix) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Matrix: matrix,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CheckProposal authorizes a proposal and records the verdict in the audit
// log. The proposal must already have passed schema validation
// (domain.ParseProposal); this method never mutates it.
func (e Engine) CheckProposal(ctx context.Context, p domain.Proposal) (governance.Verdict, error) {
	v := governance.CheckProposal(p, e.Matrix)
	evtType := "proposal.review_required"
	if v.Outcome == governance.AutoApprove {
		evtType = "proposal.auto_approved"
	}
	err := e.audit(ctx, evtType, "proposal", "", p.FromRole, events.EventPayload{
		"proposal_type": p.ProposalType,
		"target_role":   p.TargetRole,
		"reason":        v.Reason,
	})
	if err != nil {
		return v, err
	}
	return v, nil
}

// AuthorizeTaskUpdate authorizes a task transition for the acting role and
// records the verdict. Callers must treat Blocked as a hard rejection.
func (e Engine) AuthorizeTaskUpdate(ctx context.Context, req domain.TaskUpdateRequest, role string) (governance.Verdict, error) {
	v := governance.AuthorizeTaskUpdate(req, role, e.Matrix)
	evtType := "task_update.blocked"
	if v.Outcome == governance.Allowed {
		evtType = "task_update.allowed"
	}
	err := e.audit(ctx, evtType, "task", req.TaskID, role, events.EventPayload{
		"status": req.Status,
		"owner":  req.Owner,
		"reason": v.Reason,
	})
	if err != nil {
		return v, err
	}
	return v, nil
}

// ValidateHandoff validates a handoff document and records the outcome.
// Validation is idempotent: the same document and roles always yield the
// same report.
func (e Engine) ValidateHandoff(ctx context.Context, path, fromRole, toRole string) (handoff.Report, error) {
	rep := handoff.Validate(path, fromRole, toRole, e.Matrix)
	evtType := "handoff.rejected"
	if rep.Valid {
		evtType = "handoff.validated"
	}
	err := e.audit(ctx, evtType, "handoff", "", fromRole, events.EventPayload{
		"to_role":  toRole,
		"path":     path,
		"errors":   rep.Errors,
		"warnings": rep.Warnings,
	})
	if err != nil {
		return rep, err
	}
	return rep, nil
}

// Notify processes one task state-change event: bumps the task's version
// counter by exactly one, refreshes last_updated, and fans notifications
// out to the affected mailboxes. The version bump and the mailbox appends
// commit in a single transaction, so a crash can never record a
// notification without its version increment.
func (e Engine) Notify(ctx context.Context, taskID, newStatus, actorRole string) (int64, []domain.Notification, error) {
	if taskID == "" {
		return 0, nil, errors.New("task id required")
	}
	now := e.now().UTC()
	notifs := determineNotifications(taskID, newStatus, actorRole, now)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	version, err := e.Repo.BumpTaskVersion(ctx, tx, taskID)
	if err != nil {
		return 0, nil, err
	}
	if err := e.Repo.SetLastUpdated(ctx, tx, now.Format(time.RFC3339)); err != nil {
		return 0, nil, fmt.Errorf("set last_updated: %w", err)
	}
	if len(notifs) > 0 {
		rosterSize, err := e.Repo.RosterSize(ctx)
		if err != nil {
			return 0, nil, err
		}
		if rosterSize > 0 {
			known, err := e.Repo.RoleExists(ctx, orchestratorRole)
			if err != nil {
				return 0, nil, err
			}
			if !known {
				return 0, nil, fmt.Errorf("mailbox role %s not in roster", orchestratorRole)
			}
		}
	}
	for _, n := range notifs {
		payload, err := json.Marshal(n)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal notification: %w", err)
		}
		rec := domain.InboxRecord{
			ID:          uuid.New().String(),
			Role:        orchestratorRole,
			Type:        n.Type,
			TaskID:      n.TaskID,
			ActorID:     n.Actor,
			TS:          n.TS,
			PayloadJSON: string(payload),
		}
		if err := e.Repo.InsertInboxRecord(ctx, tx, rec); err != nil {
			return 0, nil, fmt.Errorf("append notification: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "sync.processed", "task", taskID, actorRole, events.EventPayload{
		"status":        newStatus,
		"version":       version,
		"notifications": len(notifs),
	}); err != nil {
		return 0, nil, err
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return version, notifs, nil
}

// determineNotifications maps a new task status to mailbox deposits.
// Statuses other than completed/in_progress fan out nothing.
func determineNotifications(taskID, newStatus, actorRole string, now time.Time) []domain.Notification {
	ts := now.Format(time.RFC3339)
	switch newStatus {
	case governance.StatusCompleted:
		return []domain.Notification{{Type: "task_completed", TaskID: taskID, Actor: actorRole, TS: ts}}
	case governance.StatusInProgress:
		return []domain.Notification{{Type: "task_started", TaskID: taskID, Actor: actorRole, TS: ts}}
	}
	return nil
}

// SyncState returns the durable version counters and last-processed
// timestamp.
func (e Engine) SyncState(ctx context.Context) (domain.SyncState, error) {
	return e.Repo.GetSyncState(ctx)
}

// Inbox returns a role's mailbox, oldest first.
func (e Engine) Inbox(ctx context.Context, role string, limit int) ([]domain.InboxRecord, error) {
	if role == "" {
		return nil, errors.New("role required")
	}
	return e.Repo.ListInbox(ctx, role, limit)
}

// SeedRoster registers the company roster. Idempotent.
func (e Engine) SeedRoster(ctx context.Context, company *config.Company) error {
	if company == nil || len(company.Roster) == 0 {
		return nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, entry := range company.Roster {
		role := domain.Role{ID: entry.ID, Description: entry.Description, CreatedAt: now}
		if err := e.Repo.UpsertRole(ctx, tx, role); err != nil {
			return fmt.Errorf("seed role %s: %w", entry.ID, err)
		}
	}
	return tx.Commit()
}

// CreateAPIKey mints a key for an actor and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor id required")
	}
	plain := uuid.New().String()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// audit records a verdict event in its own short transaction. Decisions are
// pure; the audit row is the only state they leave behind.
func (e Engine) audit(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
