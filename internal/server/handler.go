// Package server exposes the agent's local HTTP API: subscription
// management, notification control and session lifecycle. The API is
// bound to loopback and consumed by the desktop presentation layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wingsight/wingsight-agent/internal/gateway"
	"github.com/wingsight/wingsight-agent/internal/notify"
	"github.com/wingsight/wingsight-agent/internal/pkg/ctxlog"
	"github.com/wingsight/wingsight-agent/internal/pkg/httputil"
	"github.com/wingsight/wingsight-agent/internal/session"
	"github.com/wingsight/wingsight-agent/internal/subscriptions"
)

const endpointRegister = "add_user_with_id"

// Backend abstracts the gateway for calls the handler issues directly.
type Backend interface {
	Call(ctx context.Context, endpoint string, opts gateway.CallOptions) (*gateway.Result, error)
}

// Handler handles HTTP requests for the local agent API.
type Handler struct {
	store     *subscriptions.Store
	history   *subscriptions.History
	poller    *notify.Poller
	push      *notify.PushManager
	session   *session.Session
	backend   Backend
	tokenFile string
	validator *validator.Validate
}

// NewHandler creates the agent API handler.
func NewHandler(
	store *subscriptions.Store,
	history *subscriptions.History,
	poller *notify.Poller,
	push *notify.PushManager,
	sess *session.Session,
	backend Backend,
	tokenFile string,
) *Handler {
	return &Handler{
		store:     store,
		history:   history,
		poller:    poller,
		push:      push,
		session:   sess,
		backend:   backend,
		tokenFile: tokenFile,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all agent API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/streams", func(r chi.Router) {
		r.Get("/", h.ListStreams)
		r.Post("/", h.AddStream)
		r.Delete("/{id}", h.DeleteStream)
		r.Post("/{id}/toggle", h.ToggleStream)
		r.Put("/{id}/species", h.UpdateSpecies)
		r.Post("/{id}/notification", h.ToggleNotification)
		r.Get("/{id}/recognitions", h.GetRecognitions)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/current", h.CurrentNotification)
		r.Post("/start", h.StartPolling)
		r.Post("/stop", h.StopPolling)
		r.Get("/status", h.PollingStatus)
		r.Get("/subscribe", h.PushStatus)
		r.Post("/subscribe", h.ManagePush)
	})

	r.Route("/session", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/signout", h.SignOut)
		r.Post("/load", h.LoadSession)
	})
}

// AddStreamRequest represents the request body for tracking a stream.
type AddStreamRequest struct {
	URL                 string `json:"url" validate:"required,url"`
	FrameFetchFrequency int    `json:"frame_fetch_frequency" validate:"required,min=1,max=86400"`
	ProvideNotification bool   `json:"provide_notification"`
}

// UpdateSpeciesRequest represents the request body for the species filter.
type UpdateSpeciesRequest struct {
	Species []string `json:"species" validate:"dive,min=1,max=255"`
}

// ManagePushRequest represents the push enrollment action.
type ManagePushRequest struct {
	Action string `json:"action" validate:"required,oneof=subscribe unsubscribe"`
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.store.List())
}

// AddStream handles POST /streams.
func (h *Handler) AddStream(w http.ResponseWriter, r *http.Request) {
	var req AddStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.store.Add(r.Context(), req.URL, req.FrameFetchFrequency, req.ProvideNotification)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, sub)
}

// DeleteStream handles DELETE /streams/{id}.
func (h *Handler) DeleteStream(w http.ResponseWriter, r *http.Request) {
	id := subscriptions.ID(chi.URLParam(r, "id"))

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ToggleStream handles POST /streams/{id}/toggle.
func (h *Handler) ToggleStream(w http.ResponseWriter, r *http.Request) {
	id := subscriptions.ID(chi.URLParam(r, "id"))

	sub, err := h.store.ToggleActivation(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, sub)
}

// UpdateSpecies handles PUT /streams/{id}/species.
func (h *Handler) UpdateSpecies(w http.ResponseWriter, r *http.Request) {
	id := subscriptions.ID(chi.URLParam(r, "id"))

	var req UpdateSpeciesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.store.SetTargetSpecies(r.Context(), id, req.Species)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, sub)
}

// ToggleNotification handles POST /streams/{id}/notification.
func (h *Handler) ToggleNotification(w http.ResponseWriter, r *http.Request) {
	id := subscriptions.ID(chi.URLParam(r, "id"))

	sub, err := h.store.ToggleNotification(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, sub)
}

// GetRecognitions handles GET /streams/{id}/recognitions.
func (h *Handler) GetRecognitions(w http.ResponseWriter, r *http.Request) {
	id := subscriptions.ID(chi.URLParam(r, "id"))

	if _, ok := h.store.Get(id); !ok {
		httputil.Error(w, http.StatusNotFound, "subscription not found")
		return
	}

	entries, err := h.history.Entries(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// CurrentNotification handles GET /notifications/current.
func (h *Handler) CurrentNotification(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.poller.Current())
}

// StartPolling handles POST /notifications/start.
func (h *Handler) StartPolling(w http.ResponseWriter, r *http.Request) {
	h.poller.Start(context.WithoutCancel(r.Context()))
	httputil.Success(w, http.StatusOK, map[string]string{"state": string(h.poller.State())})
}

// StopPolling handles POST /notifications/stop.
func (h *Handler) StopPolling(w http.ResponseWriter, _ *http.Request) {
	h.poller.Stop()
	httputil.Success(w, http.StatusOK, map[string]string{"state": string(h.poller.State())})
}

// PollingStatus handles GET /notifications/status.
func (h *Handler) PollingStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"state":         string(h.poller.State()),
		"tracked_count": h.store.Len(),
	})
}

// PushStatus handles GET /notifications/subscribe.
func (h *Handler) PushStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.push.Status(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": status})
}

// ManagePush handles POST /notifications/subscribe.
func (h *Handler) ManagePush(w http.ResponseWriter, r *http.Request) {
	var req ManagePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	var err error
	if req.Action == "subscribe" {
		err = h.push.Subscribe(r.Context())
	} else {
		err = h.push.Unsubscribe(r.Context())
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	status, err := h.push.Status(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": status})
}

// Register handles POST /session/register. It enrolls the signed-in
// user on the backend; the backend treats a repeat registration as a
// no-op.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	userID, err := h.session.UserID()
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if _, err := h.backend.Call(r.Context(), endpointRegister, gateway.CallOptions{
		Body: map[string]interface{}{"user_id": userID},
	}); err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"user_id": userID})
}

// SignOut handles POST /session/signout. Polling stops and all local
// session state is discarded.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.poller.Stop()
	h.store.Clear()
	h.history.Clear()
	h.session.Clear()

	ctxlog.FromContext(r.Context()).Info("session cleared")
	w.WriteHeader(http.StatusNoContent)
}

// LoadSession handles POST /session/load. Tokens are re-read from the
// token file and the subscription set is fetched fresh.
func (h *Handler) LoadSession(w http.ResponseWriter, r *http.Request) {
	if h.tokenFile != "" {
		if err := h.session.LoadFile(h.tokenFile); err != nil {
			ctxlog.FromContext(r.Context()).Error("token file load failed", "path", h.tokenFile, "error", err)
			httputil.Error(w, http.StatusUnauthorized, "session tokens unavailable")
			return
		}
	}

	if !h.session.Authenticated() {
		httputil.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.store.Load(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, h.store.List())
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var userFacing *subscriptions.UserFacingError
	var gatewayErr *gateway.Error

	switch {
	case errors.Is(err, subscriptions.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, subscriptions.ErrReconcileRejected):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, session.ErrNoSubject):
		httputil.Error(w, http.StatusUnauthorized, "not authenticated")
	case errors.As(err, &userFacing):
		httputil.Error(w, http.StatusUnprocessableEntity, userFacing.Message)
	case errors.As(err, &gatewayErr):
		ctxlog.FromContext(r.Context()).Error("backend call failed", "error", err)
		httputil.Error(w, http.StatusBadGateway, "backend unavailable")
	default:
		ctxlog.FromContext(r.Context()).Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
