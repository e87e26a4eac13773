package domain

import "time"

// WorkspaceCounter stores the last issued sequence number for one workspace.
//
// LastValue strictly increases by one per successful allocation, never
// decreases, and values are never reused. The row is created lazily on the
// first allocation and mutated only through the sequence allocator.
type WorkspaceCounter struct {
	WorkspaceID string
	LastValue   int64
	Revision    int64
	UpdatedAt   time.Time
}
