package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/tryck/internal/domain"
)

// DecisionOutcome reports the result of one approval decision attempt.
//
// AlreadyDecided is the modeled contention outcome: a retried or racing
// decision observes the committed status without overwriting it.
type DecisionOutcome struct {
	ItemID         string
	Status         domain.ApprovalStatus
	AlreadyDecided bool
	Err            error
}

// Approvals runs the pending/approved/rejected decision machine per item.
type Approvals struct {
	store    Store
	notifier Notifier
	clock    Clock
	attempts int
}

// NewApprovals constructs a new value for this package.
func NewApprovals(store Store, notifier Notifier, clock Clock, attempts int) *Approvals {
	if clock == nil {
		clock = defaultClock
	}
	if attempts <= 0 {
		attempts = defaultConflictAttempts
	}
	return &Approvals{store: store, notifier: notifier, clock: clock, attempts: attempts}
}

// Approve transitions a pending item to approved.
func (a *Approvals) Approve(ctx context.Context, itemID, reviewerID string) (DecisionOutcome, error) {
	return a.decide(ctx, itemID, reviewerID, "", domain.ApprovalApproved)
}

// Reject transitions a pending item to rejected with a reviewer comment.
func (a *Approvals) Reject(ctx context.Context, itemID, reviewerID, comment string) (DecisionOutcome, error) {
	return a.decide(ctx, itemID, reviewerID, comment, domain.ApprovalRejected)
}

// BulkApprove applies Approve to each id independently. One item's failure
// never blocks the others; the caller receives a per-item outcome list.
func (a *Approvals) BulkApprove(ctx context.Context, itemIDs []string, reviewerID string) []DecisionOutcome {
	return a.bulk(ctx, itemIDs, func(id string) (DecisionOutcome, error) {
		return a.Approve(ctx, id, reviewerID)
	})
}

// BulkReject applies Reject to each id independently.
func (a *Approvals) BulkReject(ctx context.Context, itemIDs []string, reviewerID, comment string) []DecisionOutcome {
	return a.bulk(ctx, itemIDs, func(id string) (DecisionOutcome, error) {
		return a.Reject(ctx, id, reviewerID, comment)
	})
}

// bulk collects independent per-item outcomes.
func (a *Approvals) bulk(ctx context.Context, itemIDs []string, decide func(string) (DecisionOutcome, error)) []DecisionOutcome {
	outcomes := make([]DecisionOutcome, 0, len(itemIDs))
	for _, raw := range itemIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			outcomes = append(outcomes, DecisionOutcome{ItemID: raw, Err: domain.ErrInvalidID})
			continue
		}
		outcome, err := decide(id)
		if err != nil {
			outcome = DecisionOutcome{ItemID: id, Err: err}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// decide runs one conditional decision write keyed on status == pending.
// Exactly one of two racing reviewers commits; the loser re-reads the
// committed decision and reports AlreadyDecided.
func (a *Approvals) decide(ctx context.Context, itemID, reviewerID, comment string, target domain.ApprovalStatus) (DecisionOutcome, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return DecisionOutcome{}, domain.ErrInvalidUserID
	}

	var outcome DecisionOutcome
	err := retryConflict(ctx, a.attempts, func() error {
		item, err := a.store.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Approval == nil {
			return domain.ErrNoApproval
		}
		if item.Approval.Decided() {
			outcome = DecisionOutcome{
				ItemID:         item.ID,
				Status:         item.Approval.Status,
				AlreadyDecided: true,
			}
			return nil
		}
		now := a.clock()
		var decideErr error
		var op domain.ChangeOperation
		switch target {
		case domain.ApprovalApproved:
			decideErr = item.Approval.Approve(reviewerID, now)
			op = domain.ChangeOperationApprove
		case domain.ApprovalRejected:
			decideErr = item.Approval.Reject(reviewerID, comment, now)
			op = domain.ChangeOperationReject
		default:
			return fmt.Errorf("unsupported decision %q", target)
		}
		if decideErr != nil {
			return decideErr
		}
		item.UpdatedAt = now.UTC()
		if err := a.store.UpdateItem(ctx, item, item.Revision); err != nil {
			return err
		}
		outcome = DecisionOutcome{ItemID: item.ID, Status: item.Approval.Status}
		a.record(ctx, item, op, reviewerID)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoApproval) || errors.Is(err, ErrNotFound) {
			return DecisionOutcome{}, err
		}
		return DecisionOutcome{}, fmt.Errorf("decide approval on %s: %w", itemID, err)
	}
	return outcome, nil
}

// record appends and publishes a decision change event.
func (a *Approvals) record(ctx context.Context, item domain.WorkflowItem, op domain.ChangeOperation, actorID string) {
	event := domain.ChangeEvent{
		WorkspaceID: item.WorkspaceID,
		ItemID:      item.ID,
		Operation:   op,
		ActorID:     actorID,
		Metadata:    map[string]string{"status": string(item.Approval.Status)},
		OccurredAt:  a.clock().UTC(),
	}
	stored, err := a.store.AppendChangeEvent(ctx, event)
	if err != nil {
		return
	}
	if a.notifier != nil {
		a.notifier.Publish(stored)
	}
}
