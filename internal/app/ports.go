package app

import (
	"context"
	"time"

	"github.com/hylla/tryck/internal/domain"
)

// Store represents the persistent document store the core coordinates through.
//
// The store must serialize conflicting writes per document: CreateItem fails
// when the id already exists, and the conditional updates fail with
// ErrRevisionConflict when the expected revision no longer matches. Every
// committed write bumps the document revision by one. The core owns no other
// locking; this contract stands in for a distributed lock.
type Store interface {
	CreateItem(context.Context, domain.WorkflowItem) error
	GetItem(context.Context, string) (domain.WorkflowItem, error)
	UpdateItem(context.Context, domain.WorkflowItem, int64) error
	FindItemByExternalEvent(context.Context, string, string) (domain.WorkflowItem, error)
	ListItems(context.Context, string) ([]domain.WorkflowItem, error)

	GetCounter(context.Context, string) (domain.WorkspaceCounter, error)
	PutCounter(context.Context, domain.WorkspaceCounter, int64) error

	AppendChangeEvent(context.Context, domain.ChangeEvent) (domain.ChangeEvent, error)
	ListChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
}

// Notifier pushes committed item mutations to connected clients.
type Notifier interface {
	Publish(domain.ChangeEvent)
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time
