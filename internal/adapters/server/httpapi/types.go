package httpapi

import (
	"encoding/json"
	"time"

	"github.com/hylla/tryck/internal/domain"
)

// APIError represents one structured API failure response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// SubmissionRequest carries one externally delivered submission event.
// parseSubmission fills it from the flat webhook envelope, so camelCase
// aliases and folded payload fields land here too.
type SubmissionRequest struct {
	EventID        string          `json:"event_id"`
	OwnerUserID    string          `json:"owner_user_id"`
	AssigneeUserID string          `json:"assignee_user_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// SubmissionResponse reports the ingestion outcome.
type SubmissionResponse struct {
	Created bool         `json:"created"`
	Item    ItemResponse `json:"item"`
}

// CreateItemRequest carries a board-originated item creation.
type CreateItemRequest struct {
	OwnerUserID    string          `json:"owner_user_id,omitempty"`
	AssigneeUserID string          `json:"assignee_user_id,omitempty"`
	Stage          string          `json:"stage,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// MoveItemRequest names the target stage for a move.
type MoveItemRequest struct {
	Stage string `json:"stage"`
}

// UpdatePayloadRequest replaces the item content blob.
type UpdatePayloadRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// AssignItemRequest sets or clears the assignee.
type AssignItemRequest struct {
	AssigneeUserID string `json:"assignee_user_id"`
}

// DecisionRequest carries an optional reviewer comment.
type DecisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

// BulkDecisionRequest applies one decision to many items.
type BulkDecisionRequest struct {
	Action  string   `json:"action"`
	ItemIDs []string `json:"item_ids"`
	Comment string   `json:"comment,omitempty"`
}

// DecisionResponse reports one per-item decision outcome.
type DecisionResponse struct {
	ItemID         string `json:"item_id"`
	Status         string `json:"status,omitempty"`
	AlreadyDecided bool   `json:"already_decided,omitempty"`
	Error          string `json:"error,omitempty"`
}

// LeaseResponse reports an acquisition or inspection outcome.
type LeaseResponse struct {
	Granted      bool       `json:"granted,omitempty"`
	Free         bool       `json:"free"`
	HolderUserID string     `json:"holder_user_id,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// RenewResponse reports whether the lease was extended.
type RenewResponse struct {
	Renewed   bool       `json:"renewed"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ItemResponse is the wire shape of one workflow item.
type ItemResponse struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id"`
	SequenceNumber  int64           `json:"sequence_number"`
	Stage           string          `json:"stage"`
	OwnerUserID     string          `json:"owner_user_id,omitempty"`
	AssigneeUserID  string          `json:"assignee_user_id,omitempty"`
	Lease           *LeaseWire      `json:"lease,omitempty"`
	Approval        *ApprovalWire   `json:"approval,omitempty"`
	ExternalEventID string          `json:"external_event_id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Revision        int64           `json:"revision"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LeaseWire is the wire shape of a held edit lease.
type LeaseWire struct {
	HolderUserID string    `json:"holder_user_id"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ApprovalWire is the wire shape of one approval record.
type ApprovalWire struct {
	Status         string     `json:"status"`
	ReviewerUserID string     `json:"reviewer_user_id,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	Comment        string     `json:"comment,omitempty"`
}

// EventResponse is the wire shape of one change event.
type EventResponse struct {
	ID          int64             `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	ItemID      string            `json:"item_id"`
	Operation   string            `json:"operation"`
	ActorID     string            `json:"actor_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// toItemResponse converts a domain item into its wire shape.
func toItemResponse(item domain.WorkflowItem) ItemResponse {
	resp := ItemResponse{
		ID:              item.ID,
		WorkspaceID:     item.WorkspaceID,
		SequenceNumber:  item.SequenceNumber,
		Stage:           string(item.Stage),
		OwnerUserID:     item.OwnerUserID,
		AssigneeUserID:  item.AssigneeUserID,
		ExternalEventID: item.ExternalEventID,
		Payload:         item.Payload,
		Revision:        item.Revision,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
	if item.Lease != nil {
		resp.Lease = &LeaseWire{
			HolderUserID: item.Lease.HolderUserID,
			AcquiredAt:   item.Lease.AcquiredAt,
			ExpiresAt:    item.Lease.ExpiresAt,
		}
	}
	if item.Approval != nil {
		resp.Approval = &ApprovalWire{
			Status:         string(item.Approval.Status),
			ReviewerUserID: item.Approval.ReviewerUserID,
			ReviewedAt:     item.Approval.ReviewedAt,
			Comment:        item.Approval.Comment,
		}
	}
	return resp
}

// toEventResponse converts a change event into its wire shape.
func toEventResponse(ev domain.ChangeEvent) EventResponse {
	return EventResponse{
		ID:          ev.ID,
		WorkspaceID: ev.WorkspaceID,
		ItemID:      ev.ItemID,
		Operation:   string(ev.Operation),
		ActorID:     ev.ActorID,
		Metadata:    ev.Metadata,
		OccurredAt:  ev.OccurredAt,
	}
}
