package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/tryck/internal/domain"
)

// AcquireResult reports the outcome of a lease acquisition attempt.
// A refused acquisition is a modeled outcome, not an error.
type AcquireResult struct {
	Granted      bool
	HolderUserID string
	ExpiresAt    time.Time
}

// LeaseManager grants, renews, and releases exclusive edit leases on items.
//
// All mutations are conditional writes on the item revision; contention with
// other lease callers resolves by re-reading and re-deciding, never by
// waiting. Expired leases are logically absent and are overwritten in place,
// so no sweeper runs.
type LeaseManager struct {
	store    Store
	notifier Notifier
	clock    Clock
	attempts int
}

// NewLeaseManager constructs a new value for this package.
func NewLeaseManager(store Store, notifier Notifier, clock Clock, attempts int) *LeaseManager {
	if clock == nil {
		clock = defaultClock
	}
	if attempts <= 0 {
		attempts = defaultConflictAttempts
	}
	return &LeaseManager{store: store, notifier: notifier, clock: clock, attempts: attempts}
}

// Acquire grants the caller an exclusive edit lease unless a live lease is
// held by someone else. Acquiring over an expired or absent lease succeeds.
func (m *LeaseManager) Acquire(ctx context.Context, itemID, userID string, duration time.Duration) (AcquireResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AcquireResult{}, domain.ErrInvalidUserID
	}
	if duration <= 0 {
		return AcquireResult{}, domain.ErrInvalidLeaseDuration
	}

	var result AcquireResult
	err := retryConflict(ctx, m.attempts, func() error {
		item, err := m.store.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		now := m.clock()
		if item.Lease != nil && item.Lease.IsLive(now) && item.Lease.HolderUserID != userID {
			result = AcquireResult{
				HolderUserID: item.Lease.HolderUserID,
				ExpiresAt:    item.Lease.ExpiresAt,
			}
			return nil
		}
		lease, err := domain.NewEditLease(userID, duration, now)
		if err != nil {
			return err
		}
		item.Lease = &lease
		item.UpdatedAt = now.UTC()
		if err := m.store.UpdateItem(ctx, item, item.Revision); err != nil {
			return err
		}
		result = AcquireResult{Granted: true, HolderUserID: userID, ExpiresAt: lease.ExpiresAt}
		m.record(ctx, item, domain.ChangeOperationLeaseAcquire, userID)
		return nil
	})
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire lease on %s: %w", itemID, err)
	}
	return result, nil
}

// Renew extends the caller's live lease. It reports false without extending
// when the lease expired or is held by someone else; the caller must then
// treat itself as no longer editing.
func (m *LeaseManager) Renew(ctx context.Context, itemID, userID string, duration time.Duration) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, domain.ErrInvalidUserID
	}
	if duration <= 0 {
		return false, domain.ErrInvalidLeaseDuration
	}

	renewed := false
	err := retryConflict(ctx, m.attempts, func() error {
		item, err := m.store.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		now := m.clock()
		if item.Lease == nil || !item.Lease.HeldBy(userID, now) {
			renewed = false
			return nil
		}
		if err := item.Lease.Extend(duration, now); err != nil {
			return err
		}
		item.UpdatedAt = now.UTC()
		if err := m.store.UpdateItem(ctx, item, item.Revision); err != nil {
			return err
		}
		renewed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("renew lease on %s: %w", itemID, err)
	}
	return renewed, nil
}

// Release clears the lease when held by the caller. A release by a
// non-holder, including late cleanup after losing a race, is a silent no-op.
func (m *LeaseManager) Release(ctx context.Context, itemID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ErrInvalidUserID
	}

	err := retryConflict(ctx, m.attempts, func() error {
		item, err := m.store.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Lease == nil || item.Lease.HolderUserID != userID {
			return nil
		}
		now := m.clock()
		item.Lease = nil
		item.UpdatedAt = now.UTC()
		if err := m.store.UpdateItem(ctx, item, item.Revision); err != nil {
			return err
		}
		m.record(ctx, item, domain.ChangeOperationLeaseRelease, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("release lease on %s: %w", itemID, err)
	}
	return nil
}

// Inspect reports the observable lease state of an item at the current time.
func (m *LeaseManager) Inspect(ctx context.Context, itemID string) (domain.LeaseStatus, error) {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.LeaseStatus{}, err
	}
	return domain.InspectLease(item, m.clock()), nil
}

// record appends and publishes a lease change event. Ledger failures do not
// fail the committed lease write.
func (m *LeaseManager) record(ctx context.Context, item domain.WorkflowItem, op domain.ChangeOperation, actorID string) {
	event := domain.ChangeEvent{
		WorkspaceID: item.WorkspaceID,
		ItemID:      item.ID,
		Operation:   op,
		ActorID:     actorID,
		OccurredAt:  m.clock().UTC(),
	}
	stored, err := m.store.AppendChangeEvent(ctx, event)
	if err != nil {
		return
	}
	if m.notifier != nil {
		m.notifier.Publish(stored)
	}
}

// defaultClock is the process clock used when none is injected.
func defaultClock() time.Time {
	return time.Now()
}
