package domain

import (
	"errors"
	"testing"
	"time"
)

func TestApprovalApprove(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := NewPendingApproval()

	if record.Decided() {
		t.Fatal("fresh record should be undecided")
	}
	if err := record.Approve("reviewer-1", now); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if record.Status != ApprovalApproved {
		t.Fatalf("status = %q", record.Status)
	}
	if record.ReviewerUserID != "reviewer-1" || record.ReviewedAt == nil {
		t.Fatalf("reviewer attribution missing: %+v", record)
	}
}

func TestApprovalRejectCapturesComment(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := NewPendingApproval()

	if err := record.Reject("reviewer-2", "  colors off  ", now); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if record.Status != ApprovalRejected {
		t.Fatalf("status = %q", record.Status)
	}
	if record.Comment != "colors off" {
		t.Fatalf("comment = %q", record.Comment)
	}
}

func TestApprovalDecisionsAreTerminal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	approved := NewPendingApproval()
	if err := approved.Approve("r1", now); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := approved.Reject("r1", "x", now); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("reject after approve err = %v", err)
	}
	if approved.Status != ApprovalApproved {
		t.Fatalf("losing decision overwrote status: %q", approved.Status)
	}

	rejected := NewPendingApproval()
	if err := rejected.Reject("r2", "bad margins", now); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if err := rejected.Approve("r2", now); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("approve after reject err = %v", err)
	}
}

func TestApprovalRequiresReviewer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := NewPendingApproval()
	if err := record.Approve("  ", now); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("blank reviewer err = %v", err)
	}
}
