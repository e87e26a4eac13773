package app

import (
	"context"
	"sync"

	"github.com/hylla/tryck/internal/domain"
)

// fakeStore is an in-memory Store with the same first-committer-wins
// conditional-write semantics the sqlite adapter provides.
type fakeStore struct {
	mu          sync.Mutex
	items       map[string]domain.WorkflowItem
	counters    map[string]domain.WorkspaceCounter
	events      []domain.ChangeEvent
	nextEventID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:    map[string]domain.WorkflowItem{},
		counters: map[string]domain.WorkspaceCounter{},
	}
}

func (f *fakeStore) CreateItem(_ context.Context, item domain.WorkflowItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[item.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range f.items {
		if existing.WorkspaceID == item.WorkspaceID &&
			item.ExternalEventID != "" && existing.ExternalEventID == item.ExternalEventID {
			return ErrAlreadyExists
		}
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) GetItem(_ context.Context, id string) (domain.WorkflowItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return domain.WorkflowItem{}, ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) UpdateItem(_ context.Context, item domain.WorkflowItem, expectedRevision int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Revision != expectedRevision {
		return ErrRevisionConflict
	}
	item.Revision = expectedRevision + 1
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) FindItemByExternalEvent(_ context.Context, workspaceID, externalEventID string) (domain.WorkflowItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.WorkspaceID == workspaceID && item.ExternalEventID == externalEventID {
			return item, nil
		}
	}
	return domain.WorkflowItem{}, ErrNotFound
}

func (f *fakeStore) ListItems(_ context.Context, workspaceID string) ([]domain.WorkflowItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WorkflowItem, 0, len(f.items))
	for _, item := range f.items {
		if item.WorkspaceID == workspaceID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCounter(_ context.Context, workspaceID string) (domain.WorkspaceCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counter, ok := f.counters[workspaceID]
	if !ok {
		return domain.WorkspaceCounter{}, ErrNotFound
	}
	return counter, nil
}

func (f *fakeStore) PutCounter(_ context.Context, counter domain.WorkspaceCounter, expectedRevision int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.counters[counter.WorkspaceID]
	if expectedRevision == 0 {
		if ok {
			return ErrRevisionConflict
		}
		counter.Revision = 1
		f.counters[counter.WorkspaceID] = counter
		return nil
	}
	if !ok || current.Revision != expectedRevision {
		return ErrRevisionConflict
	}
	counter.Revision = expectedRevision + 1
	f.counters[counter.WorkspaceID] = counter
	return nil
}

func (f *fakeStore) AppendChangeEvent(_ context.Context, event domain.ChangeEvent) (domain.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEventID++
	event.ID = f.nextEventID
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeStore) ListChangeEvents(_ context.Context, workspaceID string, limit int) ([]domain.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChangeEvent, 0)
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].WorkspaceID != workspaceID {
			continue
		}
		out = append(out, f.events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeNotifier collects published events for assertions.
type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (f *fakeNotifier) Publish(event domain.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) published() []domain.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChangeEvent, len(f.events))
	copy(out, f.events)
	return out
}
