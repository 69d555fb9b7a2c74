package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"steward/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// BumpTaskVersion increments the version counter for a task inside tx,
// creating it at 1 when absent, and returns the new value. Running the
// read-modify-write inside one transaction is what keeps the +1-per-event
// invariant under concurrent writers.
func (r Repo) BumpTaskVersion(ctx context.Context, tx *sql.Tx, taskID string) (int64, error) {
	if taskID == "" {
		return 0, errors.New("task id required")
	}
	row := tx.QueryRowContext(ctx, `
INSERT INTO task_versions(task_id, version) VALUES (?, 1)
ON CONFLICT(task_id) DO UPDATE SET version = version + 1
RETURNING version`, taskID)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("bump task version: %w", err)
	}
	return v, nil
}

// GetTaskVersion returns the current version for a task, ErrNotFound when
// the task has never been synced.
func (r Repo) GetTaskVersion(ctx context.Context, taskID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT version FROM task_versions WHERE task_id=?`, taskID)
	var v int64
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return v, err
}

// SetLastUpdated records the timestamp of the most recently processed event.
func (r Repo) SetLastUpdated(ctx context.Context, tx *sql.Tx, ts string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO sync_meta(id, last_updated) VALUES (1, ?)
ON CONFLICT(id) DO UPDATE SET last_updated = excluded.last_updated`, ts)
	return err
}

// GetSyncState loads the full sync state: last_updated plus every task
// version counter. Absent rows yield a zeroed state, never an error.
func (r Repo) GetSyncState(ctx context.Context) (domain.SyncState, error) {
	state := domain.SyncState{TaskVersions: map[string]int64{}}
	var last sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT last_updated FROM sync_meta WHERE id=1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return state, err
	}
	if last.Valid {
		state.LastUpdated = last.String
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id, version FROM task_versions`)
	if err != nil {
		return state, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var v int64
		if err := rows.Scan(&id, &v); err != nil {
			return state, err
		}
		state.TaskVersions[id] = v
	}
	return state, rows.Err()
}

// InsertInboxRecord appends one notification record to a role's mailbox
// inside tx. Records are append-only; nothing in this core ever updates or
// deletes them.
func (r Repo) InsertInboxRecord(ctx context.Context, tx *sql.Tx, rec domain.InboxRecord) error {
	if rec.ID == "" {
		return errors.New("inbox record id required")
	}
	if rec.Role == "" {
		return errors.New("inbox role required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO inbox(id, role, type, task_id, actor_id, ts, payload_json) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.Role, rec.Type, nullable(rec.TaskID), rec.ActorID, rec.TS, nullable(rec.PayloadJSON))
	return err
}

// ListInbox returns a role's mailbox, oldest first. limit <= 0 means all.
func (r Repo) ListInbox(ctx context.Context, role string, limit int) ([]domain.InboxRecord, error) {
	query := `SELECT id, role, type, COALESCE(task_id,''), actor_id, ts, COALESCE(payload_json,'') FROM inbox WHERE role=? ORDER BY ts, id`
	args := []any{role}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InboxRecord
	for rows.Next() {
		var rec domain.InboxRecord
		if err := rows.Scan(&rec.ID, &rec.Role, &rec.Type, &rec.TaskID, &rec.ActorID, &rec.TS, &rec.PayloadJSON); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpsertRole records a roster entry.
func (r Repo) UpsertRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	if role.ID == "" {
		return errors.New("role id required")
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `
INSERT INTO roles(id, description, created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET description = excluded.description`,
		role.ID, nullable(role.Description), role.CreatedAt)
	return err
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(description,''), created_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Description, &role.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

// RosterSize reports how many roles are registered. Zero means no roster is
// configured and mailbox targets are unrestricted.
func (r Repo) RosterSize(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM roles`).Scan(&n)
	return n, err
}

func (r Repo) RoleExists(ctx context.Context, id string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE id=? LIMIT 1`, id)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// LatestEvents returns recent audit events, newest first, with optional
// type/entity filters.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, ts, type, entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events`
	var conds []string
	var args []any
	if evtType != "" {
		conds = append(conds, `type=?`)
		args = append(args, evtType)
	}
	if entityKind != "" {
		conds = append(conds, `entity_kind=?`)
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, `entity_id=?`)
		args = append(args, entityID)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
