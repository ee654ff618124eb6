// Package api exposes the device-local HTTP API of the sync engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/OGUN01/fitai-sub001/internal/backup"
	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/identity"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/queue"
	"github.com/OGUN01/fitai-sub001/internal/streak"
	"github.com/OGUN01/fitai-sub001/internal/syncer"
	"github.com/OGUN01/fitai-sub001/internal/validate"
)

// Dependencies are the components the handlers call into.
type Dependencies struct {
	Sync      *syncer.Orchestrator
	Streak    *streak.Engine
	Validator *validate.Validator
	Local     localstore.Store
	Lock      *localstore.Lock
	Backups   *backup.Manager
	Queue     *queue.Queue
	Identity  identity.Provider
	Logger    *zap.Logger
}

// Handler coordinates HTTP requests with the engine components.
type Handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{deps: deps, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync", h.runSync)
	mux.HandleFunc("/v1/sync/status", h.syncStatus)
	mux.HandleFunc("/v1/sync/report", h.syncReport)
	mux.HandleFunc("/v1/records/clean", h.cleanRecords)
	mux.HandleFunc("/v1/streak", h.getStreak)
	mux.HandleFunc("/v1/streak/activities", h.recordActivity)
	mux.HandleFunc("/v1/streak/reconcile", h.reconcileStreak)
	mux.HandleFunc("/v1/backups", h.listBackups)
	mux.HandleFunc("/v1/queue", h.listQueue)
	mux.HandleFunc("/v1/queue/", h.requeue)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	result, err := h.deps.Sync.RunSync(r.Context(), owner)
	if err != nil {
		if errors.Is(err, syncer.ErrSessionInProgress) {
			writeError(w, http.StatusConflict, "sync_in_progress", err.Error())
			return
		}
		h.serverError(w, "run sync", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	status, err := h.deps.Sync.GetSyncStatus(r.Context())
	if err != nil {
		h.serverError(w, "sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) syncReport(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	report, err := h.deps.Sync.GetReport(r.Context())
	if err != nil {
		h.serverError(w, "sync report", err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "not_found", "no sync session has run on this device")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) cleanRecords(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	report, err := validate.Clean(r.Context(), h.deps.Local, h.deps.Validator, h.deps.Lock)
	if err != nil {
		h.serverError(w, "clean records", err)
		return
	}
	writeJSON(w, http.StatusOK, CleanResponse{Dropped: report.Dropped(), Report: report})
}

func (h *Handler) getStreak(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	state, err := h.deps.Streak.State(r.Context(), owner)
	if err != nil {
		h.serverError(w, "streak state", err)
		return
	}
	writeJSON(w, http.StatusOK, toStreakView(state))
}

func (h *Handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req RecordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	current, err := h.deps.Streak.RecordActivity(r.Context(), owner, req.activity())
	if err != nil {
		var parseErr *time.ParseError
		switch {
		case errors.Is(err, streak.ErrFutureDate), errors.Is(err, streak.ErrUnknownActivity), errors.As(err, &parseErr):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		default:
			h.serverError(w, "record activity", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, RecordActivityResponse{CurrentStreak: current})
}

func (h *Handler) reconcileStreak(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	state, err := h.deps.Streak.Reconcile(r.Context(), owner)
	if err != nil {
		var transportErr *domain.TransportError
		switch {
		case errors.Is(err, domain.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "unauthorized", "sign in to reconcile the streak")
		case errors.As(err, &transportErr):
			writeError(w, http.StatusBadGateway, "remote_unavailable", err.Error())
		default:
			h.serverError(w, "reconcile streak", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toStreakView(state))
}

func (h *Handler) listBackups(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	infos, err := h.deps.Backups.List(r.Context())
	if err != nil {
		h.serverError(w, "list backups", err)
		return
	}
	if infos == nil {
		infos = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, BackupsResponse{Items: infos})
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	pending, err := h.deps.Queue.Pending(r.Context())
	if err != nil {
		h.serverError(w, "pending mutations", err)
		return
	}
	quarantined, err := h.deps.Queue.Quarantined(r.Context())
	if err != nil {
		h.serverError(w, "quarantined mutations", err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Pending: nonNil(pending), Quarantined: nonNil(quarantined)})
}

// requeue handles POST /v1/queue/{id}/requeue.
func (h *Handler) requeue(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/queue/")
	id, ok := strings.CutSuffix(rest, "/requeue")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "unknown queue route")
		return
	}
	if err := h.deps.Queue.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "mutation not found")
			return
		}
		h.serverError(w, "requeue mutation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (domain.Owner, bool) {
	owner, err := h.deps.Identity.Current(r.Context())
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return domain.Owner{}, false
		}
		h.serverError(w, "resolve owner", err)
		return domain.Owner{}, false
	}
	return owner, true
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return false
	}
	return true
}

// RecordActivityRequest is the payload for POST /v1/streak/activities.
type RecordActivityRequest struct {
	Date      string              `json:"date"`
	Kind      domain.ActivityKind `json:"kind"`
	Meal      domain.MealCategory `json:"meal,omitempty"`
	Completed *bool               `json:"completed,omitempty"`
}

// Validate ensures request correctness.
func (r RecordActivityRequest) Validate() error {
	if strings.TrimSpace(r.Date) == "" {
		return errors.New("date is required")
	}
	if strings.TrimSpace(string(r.Kind)) == "" {
		return errors.New("kind is required")
	}
	if r.Kind == domain.ActivityMeal && r.Meal == "" {
		return errors.New("meal is required for meal activities")
	}
	return nil
}

// activity converts the request; completed defaults to true.
func (r RecordActivityRequest) activity() streak.Activity {
	completed := true
	if r.Completed != nil {
		completed = *r.Completed
	}
	return streak.Activity{Date: strings.TrimSpace(r.Date), Kind: r.Kind, Meal: r.Meal, Completed: completed}
}

// RecordActivityResponse carries the streak after recording an activity.
type RecordActivityResponse struct {
	CurrentStreak int `json:"current_streak"`
}

// StreakView exposes the owner's streak.
type StreakView struct {
	OwnerID            string     `json:"owner_id"`
	CurrentStreak      int        `json:"current_streak"`
	LongestStreak      int        `json:"longest_streak"`
	LastCompletionDate string     `json:"last_completion_date,omitempty"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
}

// CleanResponse summarises a validate-and-clean pass.
type CleanResponse struct {
	Dropped int                  `json:"dropped"`
	Report  validate.CleanReport `json:"report"`
}

// BackupsResponse lists stored snapshots.
type BackupsResponse struct {
	Items []backup.Info `json:"items"`
}

// QueueResponse lists offline mutations awaiting replay and those held back.
type QueueResponse struct {
	Pending     []queue.Mutation `json:"pending"`
	Quarantined []queue.Mutation `json:"quarantined"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toStreakView(state domain.StreakState) StreakView {
	view := StreakView{
		OwnerID:            state.OwnerID,
		CurrentStreak:      state.CurrentStreak,
		LongestStreak:      state.LongestStreak,
		LastCompletionDate: state.LastCompletionDate,
	}
	if !state.LastUpdated.IsZero() {
		ts := state.LastUpdated
		view.LastUpdated = &ts
	}
	return view
}

func nonNil(in []queue.Mutation) []queue.Mutation {
	if in == nil {
		return []queue.Mutation{}
	}
	return in
}
