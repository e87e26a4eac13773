// Package sqlite implements the app.Store port on a local sqlite database.
//
// Optimistic concurrency: every row carries a revision column, conditional
// writes run as `UPDATE ... WHERE revision = ?`, and a zero-row result with
// an existing row is reported as app.ErrRevisionConflict. Creation conflicts
// surface as app.ErrAlreadyExists via unique-constraint violations, which is
// what makes the ingestion dedup key atomic.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/tryck/internal/app"
	"github.com/hylla/tryck/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository represents repository data used by this package.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS workspace_counters (
			workspace_id TEXT PRIMARY KEY,
			last_value INTEGER NOT NULL,
			revision INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			stage TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			assignee_user_id TEXT NOT NULL DEFAULT '',
			lease_holder TEXT,
			lease_acquired_at TEXT,
			lease_expires_at TEXT,
			approval_status TEXT,
			approval_reviewer TEXT,
			approval_reviewed_at TEXT,
			approval_comment TEXT NOT NULL DEFAULT '',
			external_event_id TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL DEFAULT '{}',
			revision INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_workspace_sequence
			ON work_items(workspace_id, sequence_number);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_workspace_external_event
			ON work_items(workspace_id, external_event_id) WHERE external_event_id != '';`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_workspace_stage
			ON work_items(workspace_id, stage, sequence_number);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_workspace_created_at
			ON change_events(workspace_id, created_at DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateItem creates one work item, failing when the id or the dedup key
// already exists.
func (r *Repository) CreateItem(ctx context.Context, item domain.WorkflowItem) error {
	var leaseHolder, leaseAcquired, leaseExpires any
	if item.Lease != nil {
		leaseHolder = item.Lease.HolderUserID
		leaseAcquired = ts(item.Lease.AcquiredAt)
		leaseExpires = ts(item.Lease.ExpiresAt)
	}
	var approvalStatus, approvalReviewer, approvalReviewedAt any
	approvalComment := ""
	if item.Approval != nil {
		approvalStatus = string(item.Approval.Status)
		approvalReviewer = item.Approval.ReviewerUserID
		approvalReviewedAt = nullableTS(item.Approval.ReviewedAt)
		approvalComment = item.Approval.Comment
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO work_items(
			id, workspace_id, sequence_number, stage, owner_user_id, assignee_user_id,
			lease_holder, lease_acquired_at, lease_expires_at,
			approval_status, approval_reviewer, approval_reviewed_at, approval_comment,
			external_event_id, payload_json, revision, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.WorkspaceID, item.SequenceNumber, string(item.Stage), item.OwnerUserID, item.AssigneeUserID,
		leaseHolder, leaseAcquired, leaseExpires,
		approvalStatus, approvalReviewer, approvalReviewedAt, approvalComment,
		item.ExternalEventID, string(item.Payload), item.Revision, ts(item.CreatedAt), ts(item.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return app.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetItem returns one work item by id.
func (r *Repository) GetItem(ctx context.Context, id string) (domain.WorkflowItem, error) {
	row := r.db.QueryRowContext(ctx, itemSelect+` WHERE id = ?`, id)
	return scanItem(row)
}

// UpdateItem writes one work item conditionally on its revision.
func (r *Repository) UpdateItem(ctx context.Context, item domain.WorkflowItem, expectedRevision int64) error {
	var leaseHolder, leaseAcquired, leaseExpires any
	if item.Lease != nil {
		leaseHolder = item.Lease.HolderUserID
		leaseAcquired = ts(item.Lease.AcquiredAt)
		leaseExpires = ts(item.Lease.ExpiresAt)
	}
	var approvalStatus, approvalReviewer, approvalReviewedAt any
	approvalComment := ""
	if item.Approval != nil {
		approvalStatus = string(item.Approval.Status)
		approvalReviewer = item.Approval.ReviewerUserID
		approvalReviewedAt = nullableTS(item.Approval.ReviewedAt)
		approvalComment = item.Approval.Comment
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE work_items
		SET stage = ?, assignee_user_id = ?,
			lease_holder = ?, lease_acquired_at = ?, lease_expires_at = ?,
			approval_status = ?, approval_reviewer = ?, approval_reviewed_at = ?, approval_comment = ?,
			payload_json = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?
	`, string(item.Stage), item.AssigneeUserID,
		leaseHolder, leaseAcquired, leaseExpires,
		approvalStatus, approvalReviewer, approvalReviewedAt, approvalComment,
		string(item.Payload), ts(item.UpdatedAt), item.ID, expectedRevision)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a lost race from a missing row.
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM work_items WHERE id = ?`, item.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return app.ErrNotFound
			}
			return err
		}
		return app.ErrRevisionConflict
	}
	return nil
}

// FindItemByExternalEvent returns the workspace item created for an external event.
func (r *Repository) FindItemByExternalEvent(ctx context.Context, workspaceID, externalEventID string) (domain.WorkflowItem, error) {
	row := r.db.QueryRowContext(ctx, itemSelect+` WHERE workspace_id = ? AND external_event_id = ?`, workspaceID, externalEventID)
	return scanItem(row)
}

// ListItems lists workspace items ordered by sequence number.
func (r *Repository) ListItems(ctx context.Context, workspaceID string) ([]domain.WorkflowItem, error) {
	rows, err := r.db.QueryContext(ctx, itemSelect+` WHERE workspace_id = ? ORDER BY sequence_number ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.WorkflowItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetCounter returns the workspace counter row.
func (r *Repository) GetCounter(ctx context.Context, workspaceID string) (domain.WorkspaceCounter, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT workspace_id, last_value, revision, updated_at
		FROM workspace_counters
		WHERE workspace_id = ?
	`, workspaceID)
	var counter domain.WorkspaceCounter
	var updatedAt string
	if err := row.Scan(&counter.WorkspaceID, &counter.LastValue, &counter.Revision, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkspaceCounter{}, app.ErrNotFound
		}
		return domain.WorkspaceCounter{}, err
	}
	counter.UpdatedAt = parseTS(updatedAt)
	return counter, nil
}

// PutCounter writes the counter conditionally on its revision. An expected
// revision of zero creates the row; losing the create race reports a
// revision conflict so the allocator re-reads.
func (r *Repository) PutCounter(ctx context.Context, counter domain.WorkspaceCounter, expectedRevision int64) error {
	if expectedRevision == 0 {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO workspace_counters(workspace_id, last_value, revision, updated_at)
			VALUES (?, ?, 1, ?)
		`, counter.WorkspaceID, counter.LastValue, ts(counter.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return app.ErrRevisionConflict
			}
			return err
		}
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE workspace_counters
		SET last_value = ?, revision = revision + 1, updated_at = ?
		WHERE workspace_id = ? AND revision = ?
	`, counter.LastValue, ts(counter.UpdatedAt), counter.WorkspaceID, expectedRevision)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrRevisionConflict
	}
	return nil
}

// AppendChangeEvent appends one activity-ledger entry.
func (r *Repository) AppendChangeEvent(ctx context.Context, event domain.ChangeEvent) (domain.ChangeEvent, error) {
	metaJSON, err := json.Marshal(orEmptyMeta(event.Metadata))
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("encode event metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO change_events(workspace_id, item_id, operation, actor_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.WorkspaceID, event.ItemID, string(event.Operation), event.ActorID, string(metaJSON), ts(event.OccurredAt))
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	event.ID = id
	return event, nil
}

// ListChangeEvents lists workspace activity, newest first.
func (r *Repository) ListChangeEvents(ctx context.Context, workspaceID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, item_id, operation, actor_id, metadata_json, created_at
		FROM change_events
		WHERE workspace_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ChangeEvent{}
	for rows.Next() {
		var event domain.ChangeEvent
		var op, metaJSON, createdAt string
		if err := rows.Scan(&event.ID, &event.WorkspaceID, &event.ItemID, &op, &event.ActorID, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		event.Operation = domain.ChangeOperation(op)
		event.OccurredAt = parseTS(createdAt)
		if err := json.Unmarshal([]byte(metaJSON), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// itemSelect lists the item columns in scan order.
const itemSelect = `
	SELECT id, workspace_id, sequence_number, stage, owner_user_id, assignee_user_id,
		lease_holder, lease_acquired_at, lease_expires_at,
		approval_status, approval_reviewer, approval_reviewed_at, approval_comment,
		external_event_id, payload_json, revision, created_at, updated_at
	FROM work_items`

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem handles scan item.
func scanItem(row rowScanner) (domain.WorkflowItem, error) {
	var item domain.WorkflowItem
	var stage, payloadJSON, createdAt, updatedAt string
	var leaseHolder, leaseAcquired, leaseExpires sql.NullString
	var approvalStatus, approvalReviewer, approvalReviewedAt sql.NullString
	var approvalComment string

	err := row.Scan(&item.ID, &item.WorkspaceID, &item.SequenceNumber, &stage, &item.OwnerUserID, &item.AssigneeUserID,
		&leaseHolder, &leaseAcquired, &leaseExpires,
		&approvalStatus, &approvalReviewer, &approvalReviewedAt, &approvalComment,
		&item.ExternalEventID, &payloadJSON, &item.Revision, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkflowItem{}, app.ErrNotFound
		}
		return domain.WorkflowItem{}, err
	}

	item.Stage = domain.Stage(stage)
	item.Payload = json.RawMessage(payloadJSON)
	item.CreatedAt = parseTS(createdAt)
	item.UpdatedAt = parseTS(updatedAt)

	if leaseHolder.Valid && leaseHolder.String != "" {
		item.Lease = &domain.EditLease{
			HolderUserID: leaseHolder.String,
			AcquiredAt:   parseTS(leaseAcquired.String),
			ExpiresAt:    parseTS(leaseExpires.String),
		}
	}
	if approvalStatus.Valid && approvalStatus.String != "" {
		item.Approval = &domain.ApprovalRecord{
			Status:         domain.ApprovalStatus(approvalStatus.String),
			ReviewerUserID: approvalReviewer.String,
			ReviewedAt:     parseNullTS(approvalReviewedAt),
			Comment:        approvalComment,
		}
	}
	return item, nil
}

// orEmptyMeta handles or empty meta.
func orEmptyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	parsed := parseTS(v.String)
	return &parsed
}

// isUniqueViolation reports whether the expected condition is satisfied.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
