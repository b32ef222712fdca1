package schedule

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/larksolutions/queueing/internal/identity"
)

// API exposes the calendar subsystem: weekly availability slots,
// bookable schedule blocks and the live status toggle. Independent of
// the queue core; it only shares staff identities with it.
type API struct {
	logger *log.Logger
	store  *Store
	status *StatusStore
	authC  *identity.Client
}

func NewAPI(logger *log.Logger, store *Store, status *StatusStore, authC *identity.Client) *API {
	return &API{logger: logger, store: store, status: status, authC: authC}
}

type blockReq struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Location    string    `json:"location"`
	IsPublic    *bool     `json:"is_public"`
	MaxStudents int       `json:"max_students"`
}

type slotReq struct {
	DayOfWeek string `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Location  string `json:"location"`
}

type statusReq struct {
	Status string `json:"status"`
}

// ---- availability slots ----

func (a *API) CreateSlot(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleFaculty {
		writeErr(w, http.StatusForbidden, "only faculty manage availability")
		return
	}

	var req slotReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !ValidDay(req.DayOfWeek) {
		writeErr(w, http.StatusBadRequest, "invalid day of week")
		return
	}
	if !validClock(req.StartTime) || !validClock(req.EndTime) || req.StartTime >= req.EndTime {
		writeErr(w, http.StatusBadRequest, "start/end must be HH:MM with start before end")
		return
	}

	slot := AvailabilitySlot{
		FacultyID:   u.ID,
		DayOfWeek:   req.DayOfWeek,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Location:    req.Location,
		IsAvailable: true,
	}
	if err := a.store.CreateSlot(r.Context(), &slot); err != nil {
		a.fail(w, "create slot", err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (a *API) ListSlots(w http.ResponseWriter, r *http.Request, _ identity.User) {
	facultyID, err := parseID(chi.URLParam(r, "facultyId"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid faculty id")
		return
	}
	slots, err := a.store.SlotsForFaculty(r.Context(), facultyID)
	if err != nil {
		a.fail(w, "list slots", err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (a *API) DeleteSlot(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleFaculty {
		writeErr(w, http.StatusForbidden, "only faculty manage availability")
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := a.store.DeleteSlot(r.Context(), id, u.ID); err != nil {
		a.fail(w, "delete slot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ---- live availability status ----

func (a *API) UpdateStatus(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleFaculty {
		writeErr(w, http.StatusForbidden, "only faculty set their availability status")
		return
	}

	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !ValidAvailability(req.Status) {
		writeErr(w, http.StatusBadRequest, "status must be available, busy or offline")
		return
	}

	if err := a.status.Set(r.Context(), u.ID, req.Status); err != nil {
		a.fail(w, "set status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// ListFaculty returns the faculty directory with live statuses merged
// in, for the queue display.
func (a *API) ListFaculty(w http.ResponseWriter, r *http.Request, _ identity.User) {
	users, err := a.authC.ListUsersByRole(identity.RoleFaculty)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "auth service unavailable")
		return
	}

	ids := make([]int64, len(users))
	for i, fu := range users {
		ids[i] = fu.ID
	}
	statuses, err := a.status.GetMany(r.Context(), ids)
	if err != nil {
		a.fail(w, "faculty statuses", err)
		return
	}

	type entry struct {
		identity.User
		AvailabilityStatus string `json:"availability_status"`
	}
	out := make([]entry, len(users))
	for i, fu := range users {
		out[i] = entry{User: fu, AvailabilityStatus: statuses[fu.ID]}
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- schedule blocks ----

func (a *API) CreateBlock(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleFaculty {
		writeErr(w, http.StatusForbidden, "only faculty create schedules")
		return
	}

	req, ok := a.decodeBlock(w, r)
	if !ok {
		return
	}

	overlap, err := a.store.Overlaps(r.Context(), u.ID, req.StartTime, req.EndTime, 0)
	if err != nil {
		a.fail(w, "overlap check", err)
		return
	}
	if overlap {
		writeErr(w, http.StatusConflict, ErrOverlap.Error())
		return
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	b := Block{
		FacultyID:   u.ID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Location:    req.Location,
		IsPublic:    isPublic,
		MaxStudents: req.MaxStudents,
	}
	if err := a.store.CreateBlock(r.Context(), &b); err != nil {
		a.fail(w, "create block", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) ListForFaculty(w http.ResponseWriter, r *http.Request, u identity.User) {
	facultyID, err := parseID(chi.URLParam(r, "facultyId"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid faculty id")
		return
	}
	// Faculty only see their own calendar; students and admins may view
	// anyone's.
	if u.Role == identity.RoleFaculty && u.ID != facultyID {
		writeErr(w, http.StatusForbidden, "faculty can only view their own schedules")
		return
	}

	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	blocks, err := a.store.ListForFaculty(r.Context(), facultyID, from, to)
	if err != nil {
		a.fail(w, "list schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (a *API) ListPublic(w http.ResponseWriter, r *http.Request, _ identity.User) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	blocks, err := a.store.ListPublic(r.Context(), from, to)
	if err != nil {
		a.fail(w, "list public schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (a *API) UpdateBlock(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleFaculty {
		writeErr(w, http.StatusForbidden, "only faculty update schedules")
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	current, err := a.store.GetBlock(r.Context(), id)
	if err != nil {
		a.fail(w, "load block", err)
		return
	}
	if current.FacultyID != u.ID {
		writeErr(w, http.StatusForbidden, "not your schedule")
		return
	}

	req, ok := a.decodeBlock(w, r)
	if !ok {
		return
	}

	overlap, err := a.store.Overlaps(r.Context(), u.ID, req.StartTime, req.EndTime, id)
	if err != nil {
		a.fail(w, "overlap check", err)
		return
	}
	if overlap {
		writeErr(w, http.StatusConflict, ErrOverlap.Error())
		return
	}

	isPublic := current.IsPublic
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	updated := Block{
		ID:          id,
		FacultyID:   u.ID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Location:    req.Location,
		IsPublic:    isPublic,
		MaxStudents: req.MaxStudents,
	}
	if err := a.store.UpdateBlock(r.Context(), updated); err != nil {
		a.fail(w, "update block", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) DeleteBlock(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleFaculty {
		writeErr(w, http.StatusForbidden, "only faculty delete schedules")
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := a.store.DeleteBlock(r.Context(), id, u.ID); err != nil {
		a.fail(w, "delete block", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ---- bookings ----

func (a *API) Book(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleStudent {
		writeErr(w, http.StatusForbidden, "only students book schedules")
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	b, err := a.store.GetBlock(r.Context(), id)
	if err != nil {
		a.fail(w, "load block", err)
		return
	}
	if !b.IsPublic {
		writeErr(w, http.StatusForbidden, "this schedule is not open for booking")
		return
	}
	if !Bookable(b.Type) {
		writeErr(w, http.StatusBadRequest, ErrNotBookable.Error())
		return
	}

	if err := a.store.Book(r.Context(), id, u.ID); err != nil {
		a.fail(w, "book", err)
		return
	}
	booked, err := a.store.GetBlock(r.Context(), id)
	if err != nil {
		a.fail(w, "load block", err)
		return
	}
	writeJSON(w, http.StatusOK, booked)
}

func (a *API) CancelBooking(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleStudent {
		writeErr(w, http.StatusForbidden, "only students cancel bookings")
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := a.store.CancelBooking(r.Context(), id, u.ID); err != nil {
		a.fail(w, "cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *API) MyBookings(w http.ResponseWriter, r *http.Request, u identity.User) {
	if u.Role != identity.RoleStudent {
		writeErr(w, http.StatusForbidden, "only students have bookings")
		return
	}
	blocks, err := a.store.BookedByStudent(r.Context(), u.ID)
	if err != nil {
		a.fail(w, "my bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// ---- helpers ----

func (a *API) decodeBlock(w http.ResponseWriter, r *http.Request) (blockReq, bool) {
	var req blockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return blockReq{}, false
	}
	if req.Title == "" {
		writeErr(w, http.StatusBadRequest, "title is required")
		return blockReq{}, false
	}
	if req.Type == "" {
		req.Type = TypeAvailable
	}
	if !ValidType(req.Type) {
		writeErr(w, http.StatusBadRequest, "invalid schedule type")
		return blockReq{}, false
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() || !req.EndTime.After(req.StartTime) {
		writeErr(w, http.StatusBadRequest, "start_time must be before end_time")
		return blockReq{}, false
	}
	if req.MaxStudents < 0 {
		writeErr(w, http.StatusBadRequest, "max_students cannot be negative")
		return blockReq{}, false
	}
	return req, true
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBlockFull), errors.Is(err, ErrAlreadyBooked), errors.Is(err, ErrOverlap):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		a.logger.Printf("%s: %v", op, err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func parseWindow(w http.ResponseWriter, r *http.Request) (from, to *time.Time, ok bool) {
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "from must be RFC3339")
			return nil, nil, false
		}
		from = &t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "to must be RFC3339")
			return nil, nil, false
		}
		to = &t
	}
	return from, to, true
}

func validClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return false
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return false
	}
	return true
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
