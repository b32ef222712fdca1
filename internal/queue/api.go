package queue

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/larksolutions/queueing/internal/identity"
	"github.com/larksolutions/queueing/internal/metrics"
)

// API adapts the engine and query service to HTTP. The gateway resolves
// the session and passes the acting user in.
type API struct {
	logger *log.Logger
	engine *Engine
	query  *Query
	now    func() time.Time
}

func NewAPI(logger *log.Logger, engine *Engine, query *Query) *API {
	return &API{logger: logger, engine: engine, query: query, now: time.Now}
}

type transitionReq struct {
	Status    Status `json:"status"`
	FacultyID *int64 `json:"faculty_id,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type notesReq struct {
	Notes string `json:"notes"`
}

func (a *API) CheckIn(w http.ResponseWriter, r *http.Request, u identity.User) {
	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	t, err := a.engine.CheckIn(r.Context(), u, req)
	if err != nil {
		a.fail(w, "check in", err)
		return
	}

	metrics.CheckInsTotal.Inc()
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) List(w http.ResponseWriter, r *http.Request, u identity.User) {
	var f Filter
	if s := r.URL.Query().Get("status"); s != "" {
		st := Status(s)
		if !ValidStatus(st) {
			writeErr(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		f.Status = &st
	}
	if c := r.URL.Query().Get("category"); c != "" {
		f.Category = &c
	}

	items, err := a.query.List(r.Context(), f, u)
	if err != nil {
		a.fail(w, "list tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request, _ identity.User) {
	stats, err := a.query.Stats(r.Context(), a.now())
	if err != nil {
		a.fail(w, "queue stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) Position(w http.ResponseWriter, r *http.Request, _ identity.User) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	info, err := a.engine.CurrentPosition(r.Context(), id)
	if err != nil {
		a.fail(w, "current position", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) Transition(w http.ResponseWriter, r *http.Request, u identity.User) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !ValidStatus(req.Status) {
		writeErr(w, http.StatusBadRequest, "unknown target status")
		return
	}

	t, err := a.engine.Transition(r.Context(), u, id, req.Status, req.FacultyID, strings.TrimSpace(req.Notes))
	if err != nil {
		a.fail(w, "transition", err)
		return
	}

	metrics.TransitionsTotal.WithLabelValues(string(req.Status)).Inc()
	writeJSON(w, http.StatusOK, t)
}

func (a *API) AppendNotes(w http.ResponseWriter, r *http.Request, u identity.User) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req notesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Notes) == "" {
		writeErr(w, http.StatusBadRequest, "notes are required")
		return
	}

	t, err := a.engine.AppendNotes(r.Context(), u, id, strings.TrimSpace(req.Notes))
	if err != nil {
		a.fail(w, "append notes", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) Delete(w http.ResponseWriter, r *http.Request, u identity.User) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := a.engine.Delete(r.Context(), u, id); err != nil {
		a.fail(w, "delete ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// fail maps engine errors onto HTTP. Forbidden and invalid-transition
// answers carry the engine's message so the caller can tell a role
// problem from a state problem.
func (a *API) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		writeErr(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrInvalidInput):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Printf("%s: %v", op, err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
