// Package api serves the local HTTP and WebSocket interface to the sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/core"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/query"
	"github.com/tehaksbrid/shop-databaser/internal/registry"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Service is the set of operations the API exposes.
type Service interface {
	Stores() ([]*models.Store, error)
	RegisterStore(ctx context.Context, req core.RegisterRequest) (*models.Store, error)
	DeregisterStore(ctx context.Context, uuid string) error
	ForceResync(uuid string) error
	Status(uuid string) ([]*models.StatusReport, error)
	Query(ctx context.Context, uuid, q string) (*query.Result, error)
	Config() *config.Config
	UpdateConfig(section, key string, value any) (*config.Config, error)
}

// ConfigUpdate is the body of PUT /api/v1/config.
type ConfigUpdate struct {
	Section string `json:"section"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
}

// QueryRequest is the body of POST /api/v1/stores/{uuid}/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// StatusRequest is the body of POST /api/v1/status. An empty uuid selects every store.
type StatusRequest struct {
	UUID string `json:"uuid"`
}

// StoresResponse is the body returned by GET /api/v1/stores.
type StoresResponse struct {
	Stores []*models.Store `json:"stores"`
}

// StatusResponse is the body returned by POST /api/v1/status.
type StatusResponse struct {
	Reports []*models.StatusReport `json:"reports"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Token   string `json:"token,omitempty"`
}

type handler struct {
	svc    Service
	schema *validator
	logger *slog.Logger
}

// Handler creates the HTTP handler with all routes and middleware. hub may be nil
// to serve without push events.
func Handler(svc Service, hub *Hub, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	h := &handler{svc: svc, schema: v, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("GET /api/v1/stores", h.listStores)
	mux.HandleFunc("POST /api/v1/stores", h.registerStore)
	mux.HandleFunc("DELETE /api/v1/stores/{uuid}", h.deregisterStore)
	mux.HandleFunc("POST /api/v1/stores/{uuid}/resync", h.forceResync)
	mux.HandleFunc("POST /api/v1/stores/{uuid}/query", h.query)
	mux.HandleFunc("POST /api/v1/status", h.status)
	mux.HandleFunc("GET /api/v1/config", h.getConfig)
	mux.HandleFunc("PUT /api/v1/config", h.updateConfig)
	if hub != nil {
		mux.Handle("GET /api/v1/events", hub)
	}

	return applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	), nil
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handler) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.svc.Stores()
	if err != nil {
		h.fail(w, err)
		return
	}
	if stores == nil {
		stores = []*models.Store{}
	}
	writeJSON(w, http.StatusOK, StoresResponse{Stores: stores})
}

func (h *handler) registerStore(w http.ResponseWriter, r *http.Request) {
	var req core.RegisterRequest
	if !h.decode(w, r, h.schema.register, &req) {
		return
	}
	store, err := h.svc.RegisterStore(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, store)
}

func (h *handler) deregisterStore(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeregisterStore(r.Context(), r.PathValue("uuid")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) forceResync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ForceResync(r.PathValue("uuid")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !h.decode(w, r, h.schema.query, &req) {
		return
	}
	res, err := h.svc.Query(r.Context(), r.PathValue("uuid"), req.Query)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, h.schema.status, &req) {
		return
	}
	reports, err := h.svc.Status(req.UUID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Reports: reports})
}

func (h *handler) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Config())
}

func (h *handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdate
	if !h.decode(w, r, h.schema.config, &req) {
		return
	}
	cfg, err := h.svc.UpdateConfig(req.Section, req.Key, req.Value)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// decode validates the body against s and unmarshals it into v, writing a 400
// response and reporting false on failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, s schema, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read body")
		return false
	}
	if err := validate(s, body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// fail maps service errors to HTTP statuses.
func (h *handler) fail(w http.ResponseWriter, err error) {
	var qerr *query.Error
	switch {
	case errors.As(err, &qerr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_query",
			Message: qerr.Error(),
			Kind:    qerr.Kind.String(),
			Token:   qerr.Token,
		})
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, registry.ErrExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, core.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, core.ErrVerification):
		writeError(w, http.StatusUnprocessableEntity, "verification_failed", err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "canceled", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
