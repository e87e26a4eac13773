package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/hylla/tryck/internal/domain"
)

// Service coordinates board-level item operations for UI callers.
//
// Mutations are gated by the edit lease: another user's live lease blocks
// the write. Role checks happen ahead of these calls, in the transport
// layer, never inside the state-transition logic.
type Service struct {
	store     Store
	allocator *Allocator
	notifier  Notifier
	idGen     IDGenerator
	clock     Clock
	attempts  int
}

// NewService constructs a new value for this package.
func NewService(store Store, allocator *Allocator, notifier Notifier, idGen IDGenerator, clock Clock, attempts int) *Service {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = defaultClock
	}
	if attempts <= 0 {
		attempts = defaultConflictAttempts
	}
	return &Service{store: store, allocator: allocator, notifier: notifier, idGen: idGen, clock: clock, attempts: attempts}
}

// CreateItemInput holds input values for create item operations.
type CreateItemInput struct {
	WorkspaceID    string
	OwnerUserID    string
	AssigneeUserID string
	Stage          domain.Stage
	Payload        json.RawMessage
}

// CreateItem creates an item from a UI action, assigning the next sequence
// number. A failed allocation aborts creation outright.
func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (domain.WorkflowItem, error) {
	sequence, err := s.allocator.Allocate(ctx, in.WorkspaceID)
	if err != nil {
		return domain.WorkflowItem{}, err
	}
	item, err := domain.NewWorkflowItem(domain.WorkflowItemInput{
		ID:             s.idGen(),
		WorkspaceID:    in.WorkspaceID,
		SequenceNumber: sequence,
		Stage:          in.Stage,
		OwnerUserID:    in.OwnerUserID,
		AssigneeUserID: in.AssigneeUserID,
		Payload:        in.Payload,
	}, s.clock())
	if err != nil {
		return domain.WorkflowItem{}, err
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return domain.WorkflowItem{}, fmt.Errorf("create item: %w", err)
	}
	s.record(ctx, item, domain.ChangeOperationCreate, in.OwnerUserID, nil)
	return item, nil
}

// MoveItem moves an item to another stage on behalf of a user.
//
// Entering review attaches a fresh pending approval record; entering print
// requires a committed approval. Both checks run inside the conditional
// write so racing movers converge on one committed transition.
func (s *Service) MoveItem(ctx context.Context, itemID, userID string, to domain.Stage) (domain.WorkflowItem, error) {
	to = domain.NormalizeStage(to)
	if !domain.IsValidStage(to) {
		return domain.WorkflowItem{}, domain.ErrInvalidStage
	}

	return s.mutate(ctx, itemID, userID, func(item *domain.WorkflowItem) error {
		now := s.clock()
		if to == domain.StagePrint && !item.PrintEligible() {
			return domain.ErrApprovalRequired
		}
		if err := item.MoveTo(to, now); err != nil {
			return err
		}
		if to == domain.StageReview {
			item.AttachPendingApproval(now)
		}
		return nil
	}, domain.ChangeOperationMove, func(item domain.WorkflowItem) map[string]string {
		return map[string]string{"stage": string(item.Stage)}
	})
}

// UpdatePayload replaces the item's content blob on behalf of a user.
func (s *Service) UpdatePayload(ctx context.Context, itemID, userID string, payload json.RawMessage) (domain.WorkflowItem, error) {
	return s.mutate(ctx, itemID, userID, func(item *domain.WorkflowItem) error {
		item.SetPayload(payload, s.clock())
		return nil
	}, domain.ChangeOperationUpdate, nil)
}

// AssignItem sets or clears the assignee on behalf of a user.
func (s *Service) AssignItem(ctx context.Context, itemID, userID, assigneeID string) (domain.WorkflowItem, error) {
	return s.mutate(ctx, itemID, userID, func(item *domain.WorkflowItem) error {
		item.Assign(assigneeID, s.clock())
		return nil
	}, domain.ChangeOperationAssign, func(item domain.WorkflowItem) map[string]string {
		return map[string]string{"assignee": item.AssigneeUserID}
	})
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, itemID string) (domain.WorkflowItem, error) {
	return s.store.GetItem(ctx, itemID)
}

// ListBoard lists workspace items in board order: stage, then sequence.
func (s *Service) ListBoard(ctx context.Context, workspaceID string) ([]domain.WorkflowItem, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.ErrInvalidWorkspaceID
	}
	items, err := s.store.ListItems(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b domain.WorkflowItem) int {
		if a.Stage == b.Stage {
			return int(a.SequenceNumber - b.SequenceNumber)
		}
		return a.Stage.Position() - b.Stage.Position()
	})
	return items, nil
}

// ListChangeEvents lists recent workspace activity, newest first.
func (s *Service) ListChangeEvents(ctx context.Context, workspaceID string, limit int) ([]domain.ChangeEvent, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.ErrInvalidWorkspaceID
	}
	return s.store.ListChangeEvents(ctx, workspaceID, limit)
}

// mutate runs one lease-gated conditional item write with conflict retries
// and returns the item as committed, including the post-write revision.
func (s *Service) mutate(ctx context.Context, itemID, userID string, apply func(*domain.WorkflowItem) error, op domain.ChangeOperation, meta func(domain.WorkflowItem) map[string]string) (domain.WorkflowItem, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.WorkflowItem{}, domain.ErrInvalidUserID
	}
	var committed domain.WorkflowItem
	err := retryConflict(ctx, s.attempts, func() error {
		item, err := s.store.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		now := s.clock()
		if item.Lease != nil && item.Lease.IsLive(now) && item.Lease.HolderUserID != userID {
			return fmt.Errorf("%w: %s", ErrLeaseHeld, item.Lease.HolderUserID)
		}
		if err := apply(&item); err != nil {
			return err
		}
		if err := s.store.UpdateItem(ctx, item, item.Revision); err != nil {
			return err
		}
		// The conditional write bumped the stored row by one.
		item.Revision++
		committed = item
		var metadata map[string]string
		if meta != nil {
			metadata = meta(item)
		}
		s.record(ctx, item, op, userID, metadata)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLeaseHeld) ||
			errors.Is(err, domain.ErrApprovalRequired) || errors.Is(err, domain.ErrInvalidStage) {
			return domain.WorkflowItem{}, err
		}
		return domain.WorkflowItem{}, fmt.Errorf("mutate item %s: %w", itemID, err)
	}
	return committed, nil
}

// record appends and publishes a board change event.
func (s *Service) record(ctx context.Context, item domain.WorkflowItem, op domain.ChangeOperation, actorID string, metadata map[string]string) {
	event := domain.ChangeEvent{
		WorkspaceID: item.WorkspaceID,
		ItemID:      item.ID,
		Operation:   op,
		ActorID:     actorID,
		Metadata:    metadata,
		OccurredAt:  s.clock().UTC(),
	}
	stored, err := s.store.AppendChangeEvent(ctx, event)
	if err != nil {
		return
	}
	if s.notifier != nil {
		s.notifier.Publish(stored)
	}
}
