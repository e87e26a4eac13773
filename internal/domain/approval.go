package domain

import (
	"strings"
	"time"
)

// ApprovalStatus represents the print-eligibility decision state of an item.
type ApprovalStatus string

// ApprovalStatus values.
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRecord stores the pending/approved/rejected decision gating print.
//
// Approved and rejected are both terminal. Re-submission attaches a fresh
// pending record; it is never a rejected-to-pending transition on this one.
type ApprovalRecord struct {
	Status         ApprovalStatus
	ReviewerUserID string
	ReviewedAt     *time.Time
	Comment        string
}

// NewPendingApproval constructs a fresh undecided record.
func NewPendingApproval() ApprovalRecord {
	return ApprovalRecord{Status: ApprovalPending}
}

// Decided reports whether the record reached a terminal state.
func (r ApprovalRecord) Decided() bool {
	return r.Status == ApprovalApproved || r.Status == ApprovalRejected
}

// Approve transitions pending to approved.
func (r *ApprovalRecord) Approve(reviewerUserID string, now time.Time) error {
	reviewerUserID = strings.TrimSpace(reviewerUserID)
	if reviewerUserID == "" {
		return ErrInvalidUserID
	}
	if r.Status != ApprovalPending {
		return ErrAlreadyDecided
	}
	ts := now.UTC()
	r.Status = ApprovalApproved
	r.ReviewerUserID = reviewerUserID
	r.ReviewedAt = &ts
	r.Comment = ""
	return nil
}

// Reject transitions pending to rejected and captures the reviewer comment.
func (r *ApprovalRecord) Reject(reviewerUserID, comment string, now time.Time) error {
	reviewerUserID = strings.TrimSpace(reviewerUserID)
	if reviewerUserID == "" {
		return ErrInvalidUserID
	}
	if r.Status != ApprovalPending {
		return ErrAlreadyDecided
	}
	ts := now.UTC()
	r.Status = ApprovalRejected
	r.ReviewerUserID = reviewerUserID
	r.ReviewedAt = &ts
	r.Comment = strings.TrimSpace(comment)
	return nil
}
