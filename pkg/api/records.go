package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/amino/pkg/domain"
	"github.com/cuemby/amino/pkg/types"
	"github.com/go-chi/chi/v5"
)

// WriteResponse carries the stored record and what happened to its remote
// half
type WriteResponse[T any] struct {
	Record  *T             `json:"record"`
	Outcome domain.Outcome `json:"outcome"`
}

// AttendanceRequest marks a member present
type AttendanceRequest struct {
	MemberID string    `json:"memberId"`
	At       time.Time `json:"timestamp"`
}

func (s *Server) gateway(w http.ResponseWriter) (*domain.Gateway, bool) {
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "records not available")
		return nil, false
	}
	return s.deps.Gateway, true
}

// writeRecordError maps repository errors to status codes
func writeRecordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	g, ok := s.gateway(w)
	if !ok {
		return
	}
	members, err := g.Repository().AllMembers()
	if err != nil {
		writeRecordError(w, err)
		return
	}
	if members == nil {
		members = []*types.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	g, ok := s.gateway(w)
	if !ok {
		return
	}
	payments, err := g.Repository().AllPayments()
	if err != nil {
		writeRecordError(w, err)
		return
	}
	if payments == nil {
		payments = []*types.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	g, ok := s.gateway(w)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	activities, err := g.Repository().RecentActivities(limit)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	if activities == nil {
		activities = []*types.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

// write decodes a record, passes it to the gateway and answers 201, or 202
// when the backend half was queued
func write[T any](w http.ResponseWriter, r *http.Request, prepare func(*T), fn func(context.Context, *T) (*T, domain.Outcome, error)) {
	var rec T
	if err := decode(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if prepare != nil {
		prepare(&rec)
	}
	stored, out, err := fn(r.Context(), &rec)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Queued() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, WriteResponse[T]{Record: stored, Outcome: out})
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	g, ok := s.gateway(w)
	if !ok {
		return
	}
	write(w, r, nil, g.AddMember)
}

func (s *Server) updateMember(w http.ResponseWriter, r *http.Request) {
	g, ok := s.gateway(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	write(w, r, func(m *types.Member) { m.ID = id }, g.UpdateMember)
}

func (s *Server) addPayment(w http.ResponseWriter, r *http.Request) {
	g, ok := s.gateway(w)
	if !ok {
		return
	}
	write(w, r, nil, g.AddPayment)
}

func (s *Server) markAttendance(w http.ResponseWriter, r *http.Request) {
	g, ok := s.gateway(w)
	if !ok {
		return
	}
	var req AttendanceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "memberId is required")
		return
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}
	rec, out, err := g.MarkAttendance(r.Context(), req.MemberID, req.At)
	if err != nil {
		writeRecordError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Queued() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, WriteResponse[types.Activity]{Record: rec, Outcome: out})
}
