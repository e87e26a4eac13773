package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hylla/tryck/internal/domain"
)

// ingestNamespace seeds deterministic item ids for deduplicated submissions.
var ingestNamespace = uuid.MustParse("9f2c1b6e-43d7-4d08-9f31-7a5b8c0d2e41")

// Draft holds the item fields a submission produces before numbering.
type Draft struct {
	Stage          domain.Stage
	OwnerUserID    string
	AssigneeUserID string
	Payload        json.RawMessage
}

// DraftBuilder materializes a submission into a draft. It runs only for
// genuinely new events; idempotent retries never rebuild.
type DraftBuilder func() (Draft, error)

// IngestOutcome reports whether a submission created a new item or matched
// an item created by an earlier delivery of the same external event.
type IngestOutcome struct {
	Created bool
	Item    domain.WorkflowItem
}

// Ingestor turns externally delivered events into at most one item each.
//
// Deduplication is keyed on (workspace, external event id) two ways: a lookup
// for the common retry path, and a deterministic item id derived from the
// event id so that truly concurrent deliveries collide on the store's
// create-if-absent primitive instead of both inserting.
type Ingestor struct {
	store     Store
	allocator *Allocator
	notifier  Notifier
	idGen     IDGenerator
	clock     Clock
}

// NewIngestor constructs a new value for this package.
func NewIngestor(store Store, allocator *Allocator, notifier Notifier, idGen IDGenerator, clock Clock) *Ingestor {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = defaultClock
	}
	return &Ingestor{store: store, allocator: allocator, notifier: notifier, idGen: idGen, clock: clock}
}

// IngestOrReuse creates the item for an external event, or returns the item
// an earlier delivery already created. A missing external event id disables
// deduplication and the event is treated as always-new.
func (i *Ingestor) IngestOrReuse(ctx context.Context, workspaceID, externalEventID string, build DraftBuilder) (IngestOutcome, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	externalEventID = strings.TrimSpace(externalEventID)
	if workspaceID == "" {
		return IngestOutcome{}, domain.ErrInvalidWorkspaceID
	}
	if build == nil {
		return IngestOutcome{}, fmt.Errorf("draft builder is required")
	}

	itemID := i.idGen()
	if externalEventID != "" {
		existing, err := i.store.FindItemByExternalEvent(ctx, workspaceID, externalEventID)
		switch {
		case err == nil:
			return IngestOutcome{Item: existing}, nil
		case !errors.Is(err, ErrNotFound):
			return IngestOutcome{}, fmt.Errorf("look up external event %s: %w", externalEventID, err)
		}
		itemID = dedupItemID(workspaceID, externalEventID)
	}

	draft, err := build()
	if err != nil {
		return IngestOutcome{}, fmt.Errorf("build draft for event %s: %w", externalEventID, err)
	}

	sequence, err := i.allocator.Allocate(ctx, workspaceID)
	if err != nil {
		// No fabricated fallback number: creation aborts.
		return IngestOutcome{}, err
	}

	item, err := domain.NewWorkflowItem(domain.WorkflowItemInput{
		ID:              itemID,
		WorkspaceID:     workspaceID,
		SequenceNumber:  sequence,
		Stage:           draft.Stage,
		OwnerUserID:     draft.OwnerUserID,
		AssigneeUserID:  draft.AssigneeUserID,
		ExternalEventID: externalEventID,
		Payload:         draft.Payload,
	}, i.clock())
	if err != nil {
		return IngestOutcome{}, err
	}

	if err := i.store.CreateItem(ctx, item); err != nil {
		if errors.Is(err, ErrAlreadyExists) && externalEventID != "" {
			// Lost the concurrent-delivery race; the winner's item stands.
			existing, findErr := i.store.FindItemByExternalEvent(ctx, workspaceID, externalEventID)
			if findErr != nil {
				return IngestOutcome{}, fmt.Errorf("reread after create conflict: %w", findErr)
			}
			return IngestOutcome{Item: existing}, nil
		}
		return IngestOutcome{}, fmt.Errorf("create item for event %s: %w", externalEventID, err)
	}

	i.record(ctx, item)
	return IngestOutcome{Created: true, Item: item}, nil
}

// record appends and publishes the creation event.
func (i *Ingestor) record(ctx context.Context, item domain.WorkflowItem) {
	event := domain.ChangeEvent{
		WorkspaceID: item.WorkspaceID,
		ItemID:      item.ID,
		Operation:   domain.ChangeOperationCreate,
		ActorID:     item.OwnerUserID,
		Metadata:    map[string]string{"source": "webhook"},
		OccurredAt:  i.clock().UTC(),
	}
	stored, err := i.store.AppendChangeEvent(ctx, event)
	if err != nil {
		return
	}
	if i.notifier != nil {
		i.notifier.Publish(stored)
	}
}

// dedupItemID derives a stable item id from the external event identity.
func dedupItemID(workspaceID, externalEventID string) string {
	return uuid.NewSHA1(ingestNamespace, []byte(workspaceID+"/"+externalEventID)).String()
}
