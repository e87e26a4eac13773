package domain

import "time"

// ChangeOperation describes a persisted activity operation for a work item.
type ChangeOperation string

// ChangeOperation values used by the workspace activity ledger.
const (
	ChangeOperationCreate       ChangeOperation = "create"
	ChangeOperationUpdate       ChangeOperation = "update"
	ChangeOperationMove         ChangeOperation = "move"
	ChangeOperationAssign       ChangeOperation = "assign"
	ChangeOperationLeaseAcquire ChangeOperation = "lease_acquire"
	ChangeOperationLeaseRelease ChangeOperation = "lease_release"
	ChangeOperationApprove      ChangeOperation = "approve"
	ChangeOperationReject       ChangeOperation = "reject"
)

// ChangeEvent represents a single activity-log entry for a workspace item.
type ChangeEvent struct {
	ID          int64
	WorkspaceID string
	ItemID      string
	Operation   ChangeOperation
	ActorID     string
	Metadata    map[string]string
	OccurredAt  time.Time
}
