package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/tryck/internal/adapters/notify"
	"github.com/hylla/tryck/internal/adapters/storage/sqlite"
	"github.com/hylla/tryck/internal/app"
	"github.com/hylla/tryck/internal/domain"
)

// newTestHandler wires the full stack over an in-memory database.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	hub := notify.NewHub(64)
	allocator := app.NewAllocator(repo, nil, 0)
	return NewHandler(Dependencies{
		Board:         app.NewService(repo, allocator, hub, nil, nil, 0),
		Leases:        app.NewLeaseManager(repo, hub, nil, 0),
		Approvals:     app.NewApprovals(repo, hub, nil, 0),
		Ingestor:      app.NewIngestor(repo, allocator, hub, nil, nil),
		Hub:           hub,
		LeaseDuration: 10 * time.Minute,
	})
}

// do performs one request against the router with actor headers set.
func do(t *testing.T, h *Handler, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(actorIDHeader, userID)
		req.Header.Set(actorRoleHeader, role)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func TestSubmissionCreatesThenReuses(t *testing.T) {
	h := newTestHandler(t)
	req := SubmissionRequest{
		EventID:     "ev-1",
		OwnerUserID: "alice",
		Payload:     json.RawMessage(`{"form":"poster"}`),
	}

	rec := do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/webhooks/submissions", "", "", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	first := decodeInto[SubmissionResponse](t, rec)
	if !first.Created || first.Item.SequenceNumber != 1 {
		t.Fatalf("first = %+v", first)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/webhooks/submissions", "", "", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", rec.Code)
	}
	second := decodeInto[SubmissionResponse](t, rec)
	if second.Created || second.Item.ID != first.Item.ID {
		t.Fatalf("second = %+v", second)
	}
}

func TestSubmissionRequiresOwner(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/webhooks/submissions", "", "", SubmissionRequest{EventID: "ev-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmissionAcceptsFlatEnvelope(t *testing.T) {
	h := newTestHandler(t)
	body := json.RawMessage(`{"externalEventId":"ev-1","workspaceId":"ws-1","name":"Anil","formType":"poster","owner_user_id":"alice"}`)

	rec := do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/webhooks/submissions", "", "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeInto[SubmissionResponse](t, rec)
	if !resp.Created || resp.Item.ExternalEventID != "ev-1" || resp.Item.OwnerUserID != "alice" {
		t.Fatalf("resp = %+v", resp)
	}
	var payload map[string]string
	if err := json.Unmarshal(resp.Item.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["name"] != "Anil" || payload["formType"] != "poster" {
		t.Fatalf("payload = %v", payload)
	}
	if _, ok := payload["owner_user_id"]; ok {
		t.Fatalf("envelope key leaked into payload: %v", payload)
	}

	// Redelivery of the flat shape still deduplicates.
	rec = do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/webhooks/submissions", "", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", rec.Code)
	}
	if again := decodeInto[SubmissionResponse](t, rec); again.Created || again.Item.ID != resp.Item.ID {
		t.Fatalf("again = %+v", again)
	}
}

func TestSubmissionExplicitPayloadWinsOverFoldedFields(t *testing.T) {
	h := newTestHandler(t)
	body := json.RawMessage(`{"event_id":"ev-2","owner_user_id":"alice","color":"red","payload":{"color":"blue","size":9}}`)

	rec := do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/webhooks/submissions", "", "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeInto[SubmissionResponse](t, rec)
	var payload map[string]any
	if err := json.Unmarshal(resp.Item.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["color"] != "blue" || payload["size"] != float64(9) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestCreateItemRequiresEditorRole(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "", "", CreateItemRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "mallory", "viewer", CreateItemRequest{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("editor status = %d, body %s", rec.Code, rec.Body.String())
	}
	item := decodeInto[ItemResponse](t, rec)
	if item.OwnerUserID != "alice" || item.SequenceNumber != 1 {
		t.Fatalf("item = %+v", item)
	}
}

func TestMoveAndBoardOrdering(t *testing.T) {
	h := newTestHandler(t)

	a := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))
	b := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))

	rec := do(t, h, http.MethodPost, "/api/v1/items/"+a.ID+"/move", "alice", "editor", MoveItemRequest{Stage: "translation"})
	if rec.Code != http.StatusOK {
		t.Fatalf("move status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/workspaces/ws-1/board", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("board status = %d", rec.Code)
	}
	board := decodeInto[struct {
		Items []ItemResponse `json:"items"`
	}](t, rec)
	if len(board.Items) != 2 {
		t.Fatalf("board = %+v", board)
	}
	if board.Items[0].ID != b.ID || board.Items[1].ID != a.ID {
		t.Fatalf("order = %s, %s", board.Items[0].ID, board.Items[1].ID)
	}
}

func TestMoveUnknownStageRejected(t *testing.T) {
	h := newTestHandler(t)
	item := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))

	rec := do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/move", "alice", "editor", MoveItemRequest{Stage: "shipping"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLeaseLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	item := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))
	leasePath := "/api/v1/items/" + item.ID + "/lease"

	// Alice acquires.
	rec := do(t, h, http.MethodPost, leasePath, "alice", "editor", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("acquire status = %d", rec.Code)
	}
	granted := decodeInto[LeaseResponse](t, rec)
	if !granted.Granted || granted.HolderUserID != "alice" {
		t.Fatalf("granted = %+v", granted)
	}

	// Bob is refused with the holder named, still a 200.
	rec = do(t, h, http.MethodPost, leasePath, "bob", "editor", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("contended status = %d", rec.Code)
	}
	refused := decodeInto[LeaseResponse](t, rec)
	if refused.Granted || refused.HolderUserID != "alice" {
		t.Fatalf("refused = %+v", refused)
	}

	// Bob's writes are blocked while the lease is live.
	rec = do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/move", "bob", "editor", MoveItemRequest{Stage: "translation"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("blocked move status = %d", rec.Code)
	}

	// Alice renews, then releases; Bob may then acquire.
	rec = do(t, h, http.MethodPost, leasePath+"/renew", "alice", "editor", nil)
	renewed := decodeInto[RenewResponse](t, rec)
	if !renewed.Renewed {
		t.Fatalf("renewed = %+v", renewed)
	}
	rec = do(t, h, http.MethodDelete, leasePath, "alice", "editor", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("release status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, leasePath, "bob", "editor", nil)
	if got := decodeInto[LeaseResponse](t, rec); !got.Granted {
		t.Fatalf("post-release acquire = %+v", got)
	}
}

func TestInspectLeaseFree(t *testing.T) {
	h := newTestHandler(t)
	item := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))

	rec := do(t, h, http.MethodGet, "/api/v1/items/"+item.ID+"/lease", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	status := decodeInto[LeaseResponse](t, rec)
	if !status.Free {
		t.Fatalf("status = %+v", status)
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	item := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))

	if rec := do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/move", "alice", "editor", MoveItemRequest{Stage: "review"}); rec.Code != http.StatusOK {
		t.Fatalf("move to review status = %d", rec.Code)
	}

	// Print before approval is refused.
	rec := do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/move", "alice", "editor", MoveItemRequest{Stage: "print"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature print status = %d", rec.Code)
	}

	// Editors cannot decide.
	rec = do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/approve", "alice", "editor", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("editor approve status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/approve", "root", "admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body.String())
	}
	outcome := decodeInto[DecisionResponse](t, rec)
	if outcome.Status != "approved" || outcome.AlreadyDecided {
		t.Fatalf("outcome = %+v", outcome)
	}

	// A retried decision reports the committed status instead of failing.
	rec = do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/reject", "root", "admin", DecisionRequest{Comment: "late"})
	retried := decodeInto[DecisionResponse](t, rec)
	if !retried.AlreadyDecided || retried.Status != "approved" {
		t.Fatalf("retried = %+v", retried)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/move", "alice", "editor", MoveItemRequest{Stage: "print"}); rec.Code != http.StatusOK {
		t.Fatalf("approved print status = %d", rec.Code)
	}
}

func TestBulkDecisionIndependentOutcomes(t *testing.T) {
	h := newTestHandler(t)
	a := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))
	b := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))
	for _, id := range []string{a.ID, b.ID} {
		if rec := do(t, h, http.MethodPost, "/api/v1/items/"+id+"/move", "alice", "editor", MoveItemRequest{Stage: "review"}); rec.Code != http.StatusOK {
			t.Fatalf("move status = %d", rec.Code)
		}
	}

	rec := do(t, h, http.MethodPost, "/api/v1/approvals/bulk", "root", "admin", BulkDecisionRequest{
		Action:  "approve",
		ItemIDs: []string{a.ID, "ghost", b.ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeInto[struct {
		Outcomes []DecisionResponse `json:"outcomes"`
	}](t, rec)
	if len(resp.Outcomes) != 3 {
		t.Fatalf("outcomes = %+v", resp.Outcomes)
	}
	if resp.Outcomes[0].Status != "approved" || resp.Outcomes[2].Status != "approved" {
		t.Fatalf("outcomes = %+v", resp.Outcomes)
	}
	if resp.Outcomes[1].Error == "" {
		t.Fatalf("missing item should carry an error: %+v", resp.Outcomes[1])
	}
}

func TestListEventsNewestFirst(t *testing.T) {
	h := newTestHandler(t)
	item := decodeInto[ItemResponse](t, do(t, h, http.MethodPost, "/api/v1/workspaces/ws-1/items", "alice", "editor", CreateItemRequest{}))
	if rec := do(t, h, http.MethodPost, "/api/v1/items/"+item.ID+"/move", "alice", "editor", MoveItemRequest{Stage: "translation"}); rec.Code != http.StatusOK {
		t.Fatalf("move status = %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/workspaces/ws-1/events?limit=10", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	resp := decodeInto[struct {
		Events []EventResponse `json:"events"`
	}](t, rec)
	if len(resp.Events) != 2 {
		t.Fatalf("events = %+v", resp.Events)
	}
	if resp.Events[0].Operation != "move" || resp.Events[1].Operation != "create" {
		t.Fatalf("order = %q, %q", resp.Events[0].Operation, resp.Events[1].Operation)
	}
}

func TestGetItemNotFound(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/api/v1/items/ghost", "", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	envelope := decodeInto[ErrorEnvelope](t, rec)
	if envelope.Error.Code != "not_found" {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestEventStreamDeliversEachEventOnce(t *testing.T) {
	h := newTestHandler(t)
	now := time.Now().UTC()
	h.hub.Publish(domain.ChangeEvent{ID: 1, WorkspaceID: "ws-1", ItemID: "item-1", Operation: domain.ChangeOperationCreate, OccurredAt: now})
	h.hub.Publish(domain.ChangeEvent{ID: 2, WorkspaceID: "ws-1", ItemID: "item-1", Operation: domain.ChangeOperationMove, OccurredAt: now})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/ws-1/events/stream", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Router().ServeHTTP(rec, req)
		close(done)
	}()

	// Let the stream replay the buffer, then publish a live event.
	time.Sleep(100 * time.Millisecond)
	h.hub.Publish(domain.ChangeEvent{ID: 3, WorkspaceID: "ws-1", ItemID: "item-1", Operation: domain.ChangeOperationUpdate, OccurredAt: now})
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not stop")
	}

	seen := map[string]int{}
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "id: ") {
			seen[strings.TrimPrefix(line, "id: ")]++
		}
	}
	for _, id := range []string{"1", "2", "3"} {
		if seen[id] != 1 {
			t.Fatalf("event %s written %d times (body %q)", id, seen[id], rec.Body.String())
		}
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/ws-1/items", bytes.NewReader([]byte(`{"stage":`)))
	req.Header.Set(actorIDHeader, "alice")
	req.Header.Set(actorRoleHeader, "editor")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
