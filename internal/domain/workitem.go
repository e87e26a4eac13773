package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// WorkflowItem represents the unit of work (a card) moving through stages.
//
// Revision carries the store's optimistic-concurrency version: every
// committed write bumps it, and conditional writes are keyed on it.
type WorkflowItem struct {
	ID              string
	WorkspaceID     string
	SequenceNumber  int64
	Stage           Stage
	OwnerUserID     string
	AssigneeUserID  string
	Lease           *EditLease
	Approval        *ApprovalRecord
	ExternalEventID string
	Payload         json.RawMessage
	Revision        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkflowItemInput holds values used to create a new work item.
type WorkflowItemInput struct {
	ID              string
	WorkspaceID     string
	SequenceNumber  int64
	Stage           Stage
	OwnerUserID     string
	AssigneeUserID  string
	ExternalEventID string
	Payload         json.RawMessage
}

// NewWorkflowItem normalizes and validates one item creation request.
func NewWorkflowItem(in WorkflowItemInput, now time.Time) (WorkflowItem, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.WorkspaceID = strings.TrimSpace(in.WorkspaceID)
	in.OwnerUserID = strings.TrimSpace(in.OwnerUserID)
	in.AssigneeUserID = strings.TrimSpace(in.AssigneeUserID)
	in.ExternalEventID = strings.TrimSpace(in.ExternalEventID)

	if in.ID == "" {
		return WorkflowItem{}, ErrInvalidID
	}
	if in.WorkspaceID == "" {
		return WorkflowItem{}, ErrInvalidWorkspaceID
	}
	if in.OwnerUserID == "" {
		return WorkflowItem{}, ErrInvalidUserID
	}
	if in.SequenceNumber <= 0 {
		return WorkflowItem{}, ErrInvalidSequence
	}
	if in.Stage == "" {
		in.Stage = StageSubmission
	}
	in.Stage = NormalizeStage(in.Stage)
	if !IsValidStage(in.Stage) {
		return WorkflowItem{}, ErrInvalidStage
	}
	if len(in.Payload) == 0 {
		in.Payload = json.RawMessage(`{}`)
	}

	ts := now.UTC()
	return WorkflowItem{
		ID:              in.ID,
		WorkspaceID:     in.WorkspaceID,
		SequenceNumber:  in.SequenceNumber,
		Stage:           in.Stage,
		OwnerUserID:     in.OwnerUserID,
		AssigneeUserID:  in.AssigneeUserID,
		ExternalEventID: in.ExternalEventID,
		Payload:         in.Payload,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}, nil
}

// MoveTo places the item in another stage.
func (w *WorkflowItem) MoveTo(stage Stage, now time.Time) error {
	stage = NormalizeStage(stage)
	if !IsValidStage(stage) {
		return ErrInvalidStage
	}
	w.Stage = stage
	w.UpdatedAt = now.UTC()
	return nil
}

// SetPayload replaces the opaque content blob.
func (w *WorkflowItem) SetPayload(payload json.RawMessage, now time.Time) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	w.Payload = payload
	w.UpdatedAt = now.UTC()
}

// Assign sets or clears the assignee.
func (w *WorkflowItem) Assign(userID string, now time.Time) {
	w.AssigneeUserID = strings.TrimSpace(userID)
	w.UpdatedAt = now.UTC()
}

// AttachPendingApproval attaches a fresh pending record when none is open.
//
// An existing pending record is kept untouched so retried attachments stay
// idempotent; a decided record is superseded by a fresh one.
func (w *WorkflowItem) AttachPendingApproval(now time.Time) {
	if w.Approval != nil && w.Approval.Status == ApprovalPending {
		return
	}
	record := NewPendingApproval()
	w.Approval = &record
	w.UpdatedAt = now.UTC()
}

// PrintEligible reports whether the item carries an approved record.
func (w WorkflowItem) PrintEligible() bool {
	return w.Approval != nil && w.Approval.Status == ApprovalApproved
}
