package domain

import (
	"strings"
	"time"
)

// EditLease stores one user's time-bounded exclusive claim on editing an item.
//
// A lease whose ExpiresAt is in the past is logically absent: liveness is a
// derived property computed against the caller's clock, never swept by a
// background job.
type EditLease struct {
	HolderUserID string
	AcquiredAt   time.Time
	ExpiresAt    time.Time
}

// NewEditLease constructs a new value for this package.
func NewEditLease(holderUserID string, duration time.Duration, now time.Time) (EditLease, error) {
	holderUserID = strings.TrimSpace(holderUserID)
	if holderUserID == "" {
		return EditLease{}, ErrInvalidUserID
	}
	if duration <= 0 {
		return EditLease{}, ErrInvalidLeaseDuration
	}
	ts := now.UTC()
	return EditLease{
		HolderUserID: holderUserID,
		AcquiredAt:   ts,
		ExpiresAt:    ts.Add(duration),
	}, nil
}

// IsLive reports whether the lease is unexpired at the provided time.
func (l EditLease) IsLive(now time.Time) bool {
	return now.UTC().Before(l.ExpiresAt.UTC())
}

// HeldBy reports whether the lease is live and held by the given user.
func (l EditLease) HeldBy(userID string, now time.Time) bool {
	return l.IsLive(now) && l.HolderUserID == strings.TrimSpace(userID)
}

// Extend pushes the expiry forward from the provided time.
func (l *EditLease) Extend(duration time.Duration, now time.Time) error {
	if duration <= 0 {
		return ErrInvalidLeaseDuration
	}
	l.ExpiresAt = now.UTC().Add(duration)
	return nil
}

// LeaseStatus describes the observable lease state of an item.
type LeaseStatus struct {
	Free         bool
	HolderUserID string
	ExpiresAt    time.Time
}

// InspectLease computes lease status from already-fetched item state.
// Liveness is compared against the caller's clock; no round-trip happens here.
func InspectLease(item WorkflowItem, now time.Time) LeaseStatus {
	if item.Lease == nil || !item.Lease.IsLive(now) {
		return LeaseStatus{Free: true}
	}
	return LeaseStatus{
		HolderUserID: item.Lease.HolderUserID,
		ExpiresAt:    item.Lease.ExpiresAt.UTC(),
	}
}
