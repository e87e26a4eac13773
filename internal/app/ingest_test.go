package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hylla/tryck/internal/domain"
)

// ingestFixture returns an ingestor over a fresh store.
func ingestFixture() (*fakeStore, *Ingestor) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	allocator := NewAllocator(store, clock, 100)
	return store, NewIngestor(store, allocator, nil, nil, clock)
}

func submissionDraft(payload string) DraftBuilder {
	return func() (Draft, error) {
		return Draft{
			OwnerUserID: "webhook",
			Payload:     json.RawMessage(payload),
		}, nil
	}
}

func TestIngestCreatesItem(t *testing.T) {
	_, ingestor := ingestFixture()

	outcome, err := ingestor.IngestOrReuse(context.Background(), "ws-1", "ev-1", submissionDraft(`{"form":"flyer"}`))
	if err != nil {
		t.Fatalf("IngestOrReuse: %v", err)
	}
	if !outcome.Created {
		t.Fatal("first delivery should create")
	}
	if outcome.Item.SequenceNumber != 1 {
		t.Fatalf("sequence = %d, want 1", outcome.Item.SequenceNumber)
	}
	if outcome.Item.ExternalEventID != "ev-1" {
		t.Fatalf("external event id = %q", outcome.Item.ExternalEventID)
	}
	if outcome.Item.Stage != domain.StageSubmission {
		t.Fatalf("stage = %q", outcome.Item.Stage)
	}
}

func TestIngestRedeliveryReusesItem(t *testing.T) {
	_, ingestor := ingestFixture()
	ctx := context.Background()

	first, err := ingestor.IngestOrReuse(ctx, "ws-1", "ev-1", submissionDraft(`{"v":1}`))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	rebuilt := false
	second, err := ingestor.IngestOrReuse(ctx, "ws-1", "ev-1", func() (Draft, error) {
		rebuilt = true
		return Draft{OwnerUserID: "webhook", Payload: json.RawMessage(`{"v":2}`)}, nil
	})
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Created {
		t.Fatal("redelivery must not create a second item")
	}
	if rebuilt {
		t.Fatal("redelivery must not re-run the draft builder")
	}
	if second.Item.ID != first.Item.ID {
		t.Fatalf("ids differ: %q vs %q", second.Item.ID, first.Item.ID)
	}
	if second.Item.SequenceNumber != first.Item.SequenceNumber {
		t.Fatalf("sequence changed: %d -> %d", first.Item.SequenceNumber, second.Item.SequenceNumber)
	}

	// The redelivered payload is discarded; the winner's content stands.
	if string(second.Item.Payload) != `{"v":1}` {
		t.Fatalf("payload = %s", second.Item.Payload)
	}
}

func TestIngestRedeliveryAllocatesNoSequence(t *testing.T) {
	store, ingestor := ingestFixture()
	ctx := context.Background()

	if _, err := ingestor.IngestOrReuse(ctx, "ws-1", "ev-1", submissionDraft(`{}`)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := ingestor.IngestOrReuse(ctx, "ws-1", "ev-1", submissionDraft(`{}`)); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	counter, err := store.GetCounter(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetCounter: %v", err)
	}
	if counter.LastValue != 1 {
		t.Fatalf("counter = %d, want 1", counter.LastValue)
	}
}

func TestIngestWithoutEventIDAlwaysCreates(t *testing.T) {
	_, ingestor := ingestFixture()
	ctx := context.Background()

	first, err := ingestor.IngestOrReuse(ctx, "ws-1", "", submissionDraft(`{}`))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := ingestor.IngestOrReuse(ctx, "ws-1", "", submissionDraft(`{}`))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !first.Created || !second.Created {
		t.Fatal("events without an id are always new")
	}
	if first.Item.ID == second.Item.ID {
		t.Fatal("distinct items expected")
	}
}

func TestIngestSameEventDifferentWorkspaces(t *testing.T) {
	_, ingestor := ingestFixture()
	ctx := context.Background()

	a, err := ingestor.IngestOrReuse(ctx, "ws-a", "ev-1", submissionDraft(`{}`))
	if err != nil {
		t.Fatalf("ws-a: %v", err)
	}
	b, err := ingestor.IngestOrReuse(ctx, "ws-b", "ev-1", submissionDraft(`{}`))
	if err != nil {
		t.Fatalf("ws-b: %v", err)
	}
	if !a.Created || !b.Created {
		t.Fatal("dedup is scoped per workspace")
	}
}

func TestIngestConcurrentDeliveriesCreateOnce(t *testing.T) {
	const deliveries = 10
	_, ingestor := ingestFixture()

	var wg sync.WaitGroup
	created := make(chan string, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := ingestor.IngestOrReuse(context.Background(), "ws-1", "ev-race", submissionDraft(`{}`))
			if err != nil {
				t.Errorf("IngestOrReuse: %v", err)
				return
			}
			if outcome.Created {
				created <- outcome.Item.ID
			}
		}()
	}
	wg.Wait()
	close(created)

	winners := 0
	for range created {
		winners++
	}
	if winners != 1 {
		t.Fatalf("created %d items for one event, want exactly 1", winners)
	}
}

func TestIngestAbortsWhenAllocationFails(t *testing.T) {
	store := newFakeStore()
	if err := store.PutCounter(context.Background(), domain.WorkspaceCounter{WorkspaceID: "ws-1", LastValue: 7}, 0); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	stale := &staleCounterStore{fakeStore: store}
	allocator := NewAllocator(stale, nil, 2)
	ingestor := NewIngestor(stale, allocator, nil, nil, nil)

	_, err := ingestor.IngestOrReuse(context.Background(), "ws-1", "ev-1", submissionDraft(`{}`))
	if !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("err = %v, want ErrAllocationFailed", err)
	}
	if len(store.items) != 0 {
		t.Fatal("no item may be created without a sequence number")
	}
}

func TestIngestRejectsBlankWorkspace(t *testing.T) {
	_, ingestor := ingestFixture()
	if _, err := ingestor.IngestOrReuse(context.Background(), " ", "ev-1", submissionDraft(`{}`)); !errors.Is(err, domain.ErrInvalidWorkspaceID) {
		t.Fatalf("err = %v", err)
	}
}
