package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carebase/internal/bootstrap"
	"carebase/internal/eventstore"
	"carebase/internal/organization"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/httputil"
	"carebase/pkg/requestcontext"
)

// BootstrapMonitor reads and retries bootstrap sagas; *bootstrap.Monitor implements it.
type BootstrapMonitor interface {
	GetBootstrapStatus(ctx context.Context, correlationID string) (bootstrap.Status, error)
	ListBootstrapProcesses(ctx context.Context, page eventstore.Page) ([]bootstrap.Status, error)
	RetryFailedBootstrap(ctx context.Context, correlationID string) (bootstrap.Status, error)
}

// Bootstrapper starts and cancels sagas; *bootstrap.Orchestrator implements it.
type Bootstrapper interface {
	Initiate(ctx context.Context, req bootstrap.InitiateRequest) (bootstrap.Saga, error)
	Cancel(ctx context.Context, correlationID, reason string) error
}

// Handler wires admin endpoints to the service and the bootstrap saga.
type Handler struct {
	service *Service
	monitor BootstrapMonitor
	sagas   Bootstrapper
	logger  *slog.Logger
}

func NewHandler(service *Service, monitor BootstrapMonitor, sagas Bootstrapper, logger *slog.Logger) *Handler {
	return &Handler{service: service, monitor: monitor, sagas: sagas, logger: logger}
}

// Register mounts the endpoints on r. Authentication is the caller's concern.
func (h *Handler) Register(r chi.Router) {
	r.Get("/events/unprocessed", h.HandleUnprocessed)
	r.Post("/events/{eventID}/retry", h.HandleRetryEvent)
	r.Get("/streams/{streamID}/events", h.HandleEntityHistory)
	r.Get("/stats", h.HandleStats)
	r.Get("/follow-ups", h.HandlePendingFollowUps)

	r.Route("/bootstrap", func(r chi.Router) {
		r.Get("/", h.HandleListBootstraps)
		r.Post("/", h.HandleInitiateBootstrap)
		r.Get("/{correlationID}", h.HandleBootstrapStatus)
		r.Post("/{correlationID}/retry", h.HandleRetryBootstrap)
		r.Post("/{correlationID}/cancel", h.HandleCancelBootstrap)
	})
}

func (h *Handler) HandleUnprocessed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.service.GetUnprocessedEvents(r.Context(), limit)
	h.respond(w, r, "list unprocessed events", EventsResponse{Events: events, Total: len(events)}, err)
}

func (h *Handler) HandleRetryEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathUUID(r, "eventID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.RetryEvent(r.Context(), eventID)
	h.respond(w, r, "retry event", res, err)
}

func (h *Handler) HandleEntityHistory(w http.ResponseWriter, r *http.Request) {
	streamID, err := pathUUID(r, "streamID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.service.GetEntityHistory(r.Context(), streamID)
	h.respond(w, r, "entity history", EventsResponse{Events: events, Total: len(events)}, err)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ProcessingStats(r.Context())
	h.respond(w, r, "processing stats", StatsResponse{StreamTypes: stats}, err)
}

func (h *Handler) HandlePendingFollowUps(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.PendingFollowUps(r.Context())
	h.respond(w, r, "pending follow-ups", FollowUpsResponse{FollowUps: pending, Total: len(pending)}, err)
}

func (h *Handler) HandleListBootstraps(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sagas, err := h.monitor.ListBootstrapProcesses(r.Context(), eventstore.Page{Limit: limit, Offset: offset, Newest: true})
	h.respond(w, r, "list bootstraps", BootstrapsResponse{Bootstraps: sagas, Total: len(sagas)}, err)
}

func (h *Handler) HandleInitiateBootstrap(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[InitiateBootstrapRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var parent *domain.Path
	if req.ParentPath != "" {
		p, err := domain.ParsePath(req.ParentPath)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		parent = &p
	}
	saga, err := h.sagas.Initiate(r.Context(), bootstrap.InitiateRequest{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Type:        organization.Type(req.Type),
		Slug:        req.Slug,
		Timezone:    req.Timezone,
		ParentPath:  parent,
		AdminEmail:  req.AdminEmail,
		AdminName:   req.AdminName,
	})
	if err != nil {
		h.fail(w, r, "initiate bootstrap", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, InitiateBootstrapResponse{
		CorrelationID:  saga.CorrelationID,
		OrganizationID: saga.OrganizationID.String(),
		EventID:        saga.EventID.String(),
	})
}

func (h *Handler) HandleBootstrapStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.monitor.GetBootstrapStatus(r.Context(), chi.URLParam(r, "correlationID"))
	h.respond(w, r, "bootstrap status", st, err)
}

func (h *Handler) HandleRetryBootstrap(w http.ResponseWriter, r *http.Request) {
	st, err := h.monitor.RetryFailedBootstrap(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		h.fail(w, r, "retry bootstrap", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, st)
}

func (h *Handler) HandleCancelBootstrap(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[CancelBootstrapRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "reason is required"))
		return
	}
	if err := h.sagas.Cancel(r.Context(), chi.URLParam(r, "correlationID"), req.Reason); err != nil {
		h.fail(w, r, "cancel bootstrap", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, body any, err error) {
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeBadRequest, "invalid %s", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}
