// Package httpapi provides the REST and event-stream HTTP adapter.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hylla/tryck/internal/adapters/notify"
	"github.com/hylla/tryck/internal/app"
	"github.com/hylla/tryck/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// actorIDHeader and actorRoleHeader carry caller identity set by the
// authenticating front proxy. Authentication itself happens outside this core.
const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
)

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	board         *app.Service
	leases        *app.LeaseManager
	approvals     *app.Approvals
	ingestor      *app.Ingestor
	hub           *notify.Hub
	logger        *log.Logger
	leaseDuration time.Duration
}

// Dependencies lists the app services the HTTP surface exposes.
type Dependencies struct {
	Board         *app.Service
	Leases        *app.LeaseManager
	Approvals     *app.Approvals
	Ingestor      *app.Ingestor
	Hub           *notify.Hub
	Logger        *log.Logger
	LeaseDuration time.Duration
}

// NewHandler constructs the HTTP adapter over the app services.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	duration := deps.LeaseDuration
	if duration <= 0 {
		duration = 10 * time.Minute
	}
	return &Handler{
		board:         deps.Board,
		leases:        deps.Leases,
		approvals:     deps.Approvals,
		ingestor:      deps.Ingestor,
		hub:           deps.Hub,
		logger:        logger,
		leaseDuration: duration,
	}
}

// Router builds the full route tree including health endpoints.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.actorContext)

	r.Get("/healthz", h.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Post("/webhooks/submissions", h.handleSubmission)
			r.Get("/board", h.handleBoard)
			r.Get("/events", h.handleListEvents)
			r.Get("/events/stream", h.handleEventStream)
			r.Post("/items", h.handleCreateItem)
		})
		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/", h.handleGetItem)
			r.Post("/move", h.handleMoveItem)
			r.Put("/payload", h.handleUpdatePayload)
			r.Post("/assign", h.handleAssignItem)
			r.Get("/lease", h.handleInspectLease)
			r.Post("/lease", h.handleAcquireLease)
			r.Post("/lease/renew", h.handleRenewLease)
			r.Delete("/lease", h.handleReleaseLease)
			r.Post("/approve", h.handleApprove)
			r.Post("/reject", h.handleReject)
		})
		r.Post("/approvals/bulk", h.handleBulkDecision)
	})

	return r
}

// actorContext lifts caller identity headers into the request context.
func (h *Handler) actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(actorIDHeader))
		if userID != "" {
			ctx := app.WithActor(r.Context(), app.Actor{
				UserID: userID,
				Role:   domain.Role(r.Header.Get(actorRoleHeader)),
			})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request line without payload content.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmission serves POST `/workspaces/{workspaceID}/webhooks/submissions`.
// Redelivered events return the already-created item with created=false.
//
// Unlike the board endpoints this one decodes leniently: delivery sources
// send flat envelopes like `{ externalEventId, workspaceId, ...fields }`,
// and unrecognized top-level fields fold into the item payload.
func (h *Handler) handleSubmission(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	req, err := parseSubmission(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}
	owner := strings.TrimSpace(req.OwnerUserID)
	if owner == "" {
		if actor, ok := app.ActorFromContext(r.Context()); ok {
			owner = actor.UserID
		}
	}
	if owner == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "owner_user_id is required",
		})
		return
	}

	outcome, err := h.ingestor.IngestOrReuse(r.Context(), workspaceID, req.EventID, func() (app.Draft, error) {
		return app.Draft{
			OwnerUserID:    owner,
			AssigneeUserID: req.AssigneeUserID,
			Payload:        req.Payload,
		}, nil
	})
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, SubmissionResponse{Created: outcome.Created, Item: toItemResponse(outcome.Item)})
}

// handleBoard serves GET `/workspaces/{workspaceID}/board`.
func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	items, err := h.board.ListBoard(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	out := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// handleListEvents serves GET `/workspaces/{workspaceID}/events`, newest first.
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}
	events, err := h.board.ListChangeEvents(r.Context(), chi.URLParam(r, "workspaceID"), limit)
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleCreateItem serves POST `/workspaces/{workspaceID}/items`.
func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireEditor(w, r)
	if !ok {
		return
	}
	var req CreateItemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	owner := strings.TrimSpace(req.OwnerUserID)
	if owner == "" {
		owner = actor.UserID
	}
	item, err := h.board.CreateItem(r.Context(), app.CreateItemInput{
		WorkspaceID:    chi.URLParam(r, "workspaceID"),
		OwnerUserID:    owner,
		AssigneeUserID: req.AssigneeUserID,
		Stage:          domain.Stage(req.Stage),
		Payload:        req.Payload,
	})
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

// handleGetItem serves GET `/items/{itemID}`.
func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.board.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// handleMoveItem serves POST `/items/{itemID}/move`.
func (h *Handler) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireEditor(w, r)
	if !ok {
		return
	}
	var req MoveItemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	item, err := h.board.MoveItem(r.Context(), chi.URLParam(r, "itemID"), actor.UserID, domain.Stage(req.Stage))
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// handleUpdatePayload serves PUT `/items/{itemID}/payload`.
func (h *Handler) handleUpdatePayload(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireEditor(w, r)
	if !ok {
		return
	}
	var req UpdatePayloadRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	item, err := h.board.UpdatePayload(r.Context(), chi.URLParam(r, "itemID"), actor.UserID, req.Payload)
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// handleAssignItem serves POST `/items/{itemID}/assign`.
func (h *Handler) handleAssignItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireEditor(w, r)
	if !ok {
		return
	}
	var req AssignItemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	item, err := h.board.AssignItem(r.Context(), chi.URLParam(r, "itemID"), actor.UserID, req.AssigneeUserID)
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// handleInspectLease serves GET `/items/{itemID}/lease`.
func (h *Handler) handleInspectLease(w http.ResponseWriter, r *http.Request) {
	status, err := h.leases.Inspect(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	resp := LeaseResponse{Free: status.Free, HolderUserID: status.HolderUserID}
	if !status.Free {
		expires := status.ExpiresAt
		resp.ExpiresAt = &expires
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAcquireLease serves POST `/items/{itemID}/lease`. A refused
// acquisition is a normal 200 response naming the current holder.
func (h *Handler) handleAcquireLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireEditor(w, r)
	if !ok {
		return
	}
	result, err := h.leases.Acquire(r.Context(), chi.URLParam(r, "itemID"), actor.UserID, h.leaseDuration)
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	expires := result.ExpiresAt
	writeJSON(w, http.StatusOK, LeaseResponse{
		Granted:      result.Granted,
		HolderUserID: result.HolderUserID,
		ExpiresAt:    &expires,
	})
}

// handleRenewLease serves POST `/items/{itemID}/lease/renew`.
func (h *Handler) handleRenewLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireEditor(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")
	renewed, err := h.leases.Renew(r.Context(), itemID, actor.UserID, h.leaseDuration)
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	resp := RenewResponse{Renewed: renewed}
	if renewed {
		if status, err := h.leases.Inspect(r.Context(), itemID); err == nil && !status.Free {
			expires := status.ExpiresAt
			resp.ExpiresAt = &expires
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReleaseLease serves DELETE `/items/{itemID}/lease`. Releasing a
// lease the caller does not hold is a no-op.
func (h *Handler) handleReleaseLease(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireEditor(w, r)
	if !ok {
		return
	}
	if err := h.leases.Release(r.Context(), chi.URLParam(r, "itemID"), actor.UserID); err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApprove serves POST `/items/{itemID}/approve`.
func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireReviewer(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	outcome, err := h.approvals.Approve(r.Context(), chi.URLParam(r, "itemID"), actor.UserID)
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(outcome))
}

// handleReject serves POST `/items/{itemID}/reject`.
func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireReviewer(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decodeOptionalBody(w, r, &req) {
		return
	}
	outcome, err := h.approvals.Reject(r.Context(), chi.URLParam(r, "itemID"), actor.UserID, req.Comment)
	if err != nil {
		h.writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(outcome))
}

// handleBulkDecision serves POST `/approvals/bulk`. Per-item outcomes are
// independent; one item's failure never aborts the rest.
func (h *Handler) handleBulkDecision(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireReviewer(w, r)
	if !ok {
		return
	}
	var req BulkDecisionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	var outcomes []app.DecisionOutcome
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "approve":
		outcomes = h.approvals.BulkApprove(r.Context(), req.ItemIDs, actor.UserID)
	case "reject":
		outcomes = h.approvals.BulkReject(r.Context(), req.ItemIDs, actor.UserID, req.Comment)
	default:
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "action must be approve or reject",
		})
		return
	}

	out := make([]DecisionResponse, 0, len(outcomes))
	for _, outcome := range outcomes {
		out = append(out, toDecisionResponse(outcome))
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": out})
}

// toDecisionResponse converts one decision outcome into its wire shape.
func toDecisionResponse(outcome app.DecisionOutcome) DecisionResponse {
	resp := DecisionResponse{
		ItemID:         outcome.ItemID,
		Status:         string(outcome.Status),
		AlreadyDecided: outcome.AlreadyDecided,
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
	}
	return resp
}

// requireEditor resolves an actor allowed to mutate board items.
func (h *Handler) requireEditor(w http.ResponseWriter, r *http.Request) (app.Actor, bool) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return app.Actor{}, false
	}
	if !actor.Role.CanEdit() {
		writeJSONError(w, http.StatusForbidden, APIError{
			Code:    "forbidden",
			Message: "editing requires the editor or admin role",
		})
		return app.Actor{}, false
	}
	return actor, true
}

// requireReviewer resolves an actor allowed to decide approvals.
func (h *Handler) requireReviewer(w http.ResponseWriter, r *http.Request) (app.Actor, bool) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return app.Actor{}, false
	}
	if !actor.Role.CanReview() {
		writeJSONError(w, http.StatusForbidden, APIError{
			Code:    "forbidden",
			Message: "approval decisions require the admin role",
		})
		return app.Actor{}, false
	}
	return actor, true
}

// requireActor resolves the caller identity or writes a 401.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (app.Actor, bool) {
	actor, ok := app.ActorFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, APIError{
			Code:    "unauthenticated",
			Message: "caller identity is required",
			Hint:    fmt.Sprintf("set the %s header", actorIDHeader),
		})
		return app.Actor{}, false
	}
	return actor, true
}

// writeErrorFrom maps core errors into structured HTTP responses.
func (h *Handler) writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{Code: "not_found", Message: err.Error()})
	case errors.Is(err, app.ErrLeaseHeld):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "lease_held",
			Message: err.Error(),
			Hint:    "acquire the edit lease or wait for it to expire",
		})
	case errors.Is(err, domain.ErrApprovalRequired):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "approval_required",
			Message: err.Error(),
			Hint:    "the item must be approved before it can enter print",
		})
	case errors.Is(err, domain.ErrNoApproval):
		writeJSONError(w, http.StatusConflict, APIError{Code: "no_approval", Message: err.Error()})
	case errors.Is(err, app.ErrRevisionConflict):
		writeJSONError(w, http.StatusConflict, APIError{Code: "conflict", Message: err.Error()})
	case errors.Is(err, app.ErrAllocationFailed):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{Code: "allocation_failed", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidWorkspaceID),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidStage),
		errors.Is(err, domain.ErrInvalidLeaseDuration):
		writeJSONError(w, http.StatusBadRequest, APIError{Code: "invalid_request", Message: err.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, APIError{Code: "internal_error", Message: err.Error()})
	}
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// parseSubmission decodes an inbound submission event. Recognized envelope
// keys are lifted out in either camelCase or snake_case; every remaining
// top-level field becomes part of the item payload, with an explicit
// `payload` object winning on key collisions.
func parseSubmission(body io.ReadCloser) (SubmissionRequest, error) {
	defer body.Close()

	raw := map[string]json.RawMessage{}
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(&raw); err != nil {
		return SubmissionRequest{}, err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return SubmissionRequest{}, errors.New("trailing content")
	}

	var req SubmissionRequest
	extra := map[string]json.RawMessage{}
	for key, value := range raw {
		var dst *string
		switch key {
		case "externalEventId", "event_id", "external_event_id":
			dst = &req.EventID
		case "workspaceId", "workspace_id":
			// Tolerated for compatibility; the URL names the workspace.
			continue
		case "ownerUserId", "owner_user_id":
			dst = &req.OwnerUserID
		case "assigneeUserId", "assignee_user_id":
			dst = &req.AssigneeUserID
		case "payload":
			req.Payload = value
			continue
		default:
			extra[key] = value
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return SubmissionRequest{}, fmt.Errorf("%s must be a string", key)
		}
	}
	if len(extra) > 0 {
		merged := map[string]json.RawMessage{}
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &merged); err != nil {
				return SubmissionRequest{}, errors.New("payload must be an object")
			}
		}
		for key, value := range extra {
			if _, ok := merged[key]; !ok {
				merged[key] = value
			}
		}
		payload, err := json.Marshal(merged)
		if err != nil {
			return SubmissionRequest{}, err
		}
		req.Payload = payload
	}
	return req, nil
}

// decodeBody decodes one required JSON request body with strict shape checks.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "invalid JSON body: " + err.Error(),
		})
		return false
	}
	// Reject trailing payloads so malformed bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "invalid JSON body: trailing content",
		})
		return false
	}
	return true
}

// decodeOptionalBody decodes one optional JSON body, accepting an empty one.
func (h *Handler) decodeOptionalBody(w http.ResponseWriter, r *http.Request, out any) bool {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSONError(w, http.StatusBadRequest, APIError{
		Code:    "invalid_request",
		Message: "invalid JSON body: " + err.Error(),
	})
	return false
}
