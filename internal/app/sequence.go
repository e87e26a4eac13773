package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/tryck/internal/domain"
)

// Allocator issues gap-free, strictly increasing sequence numbers per workspace.
type Allocator struct {
	store    Store
	clock    Clock
	attempts int
}

// NewAllocator constructs a new value for this package.
func NewAllocator(store Store, clock Clock, attempts int) *Allocator {
	if clock == nil {
		clock = defaultClock
	}
	if attempts <= 0 {
		attempts = defaultConflictAttempts
	}
	return &Allocator{store: store, clock: clock, attempts: attempts}
}

// Allocate returns the next sequence number for the workspace, starting at 1.
//
// The read-modify-write runs against the counter document under optimistic
// concurrency; a lost race re-reads and retries. When the budget is exhausted
// the caller gets ErrAllocationFailed and must abort item creation: there is
// no fallback number, since any substitute would break uniqueness.
func (a *Allocator) Allocate(ctx context.Context, workspaceID string) (int64, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return 0, domain.ErrInvalidWorkspaceID
	}

	var next int64
	err := retryConflict(ctx, a.attempts, func() error {
		counter, err := a.store.GetCounter(ctx, workspaceID)
		switch {
		case errors.Is(err, ErrNotFound):
			counter = domain.WorkspaceCounter{WorkspaceID: workspaceID}
		case err != nil:
			return err
		}
		next = counter.LastValue + 1
		expected := counter.Revision
		counter.LastValue = next
		counter.UpdatedAt = a.clock().UTC()
		return a.store.PutCounter(ctx, counter, expected)
	})
	if err != nil {
		if errors.Is(err, ErrRevisionConflict) {
			return 0, fmt.Errorf("%w: workspace %s: %v", ErrAllocationFailed, workspaceID, err)
		}
		return 0, fmt.Errorf("allocate sequence for workspace %s: %w", workspaceID, err)
	}
	return next, nil
}
