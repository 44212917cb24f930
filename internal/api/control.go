package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-teg/internal/audit"
	"github.com/nerrad567/gray-logic-teg/internal/legacy"
	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

// auditWriteTimeout bounds recording one control entry.
const auditWriteTimeout = 2 * time.Second

// Control actions accepted by POST /control/{action}.
const (
	actionReserve = "reserve"
	actionMode    = "mode"
)

// handleControl applies a reserve or mode change. An empty value only
// checks the token and reports the current setting.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	s.stats.post(r.URL.Path)
	action := chi.URLParam(r, "action")
	value := strings.TrimSpace(r.FormValue("value"))
	token := r.FormValue("token")

	var key string
	switch action {
	case actionReserve:
		if value != "" && !isDigits(value) {
			s.stats.error()
			s.recordControl(r, action, value, audit.OutcomeRejected, "invalid value")
			writeError(w, http.StatusBadRequest, "Invalid Value")
			return
		}
		key = "reserve"
	case actionMode:
		key = "mode"
	default:
		s.stats.error()
		writeError(w, http.StatusBadRequest, "Invalid Command Action")
		return
	}

	if value == "" {
		if err := s.dispatcher.Authorize(token); err != nil {
			s.stats.error()
			s.recordControl(r, action, "", audit.OutcomeRejected, err.Message)
			writeControlError(w, err)
			return
		}
		s.recordControl(r, action, "", audit.OutcomeRead, "")
		s.writeSetting(w, r, action)
		return
	}

	res := s.dispatcher.Post(r.Context(), pathOperation, map[string]any{key: value}, token)
	switch {
	case res.Err != nil:
		s.stats.error()
		outcome := audit.OutcomeRejected
		if res.Err.Code == legacy.CodeCommandFailed {
			outcome = audit.OutcomeFailed
		}
		s.recordControl(r, action, value, outcome, res.Err.Message)
		writeControlError(w, res.Err)
	case res.Value == nil:
		s.stats.timedOut()
		s.recordControl(r, action, value, audit.OutcomeFailed, "no operator")
		writeTimeout(w)
	default:
		s.logger.Info("control command queued", "action", action, "value", value)
		s.recordControl(r, action, value, audit.OutcomeQueued, "")
		writeJSON(w, http.StatusOK, res.Value)
	}
}

// recordControl appends one entry to the audit trail. Failures are logged
// and never change the response.
func (s *Server) recordControl(r *http.Request, action, value, outcome, reason string) {
	if s.audit == nil {
		return
	}
	requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
	entry := &audit.Entry{
		Action:     action,
		Value:      value,
		Outcome:    outcome,
		Reason:     reason,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("recording control command failed", "action", action, "error", err)
	}
}

// handleAudit pages through the control audit trail. The control token is
// required, passed as the token query parameter.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	s.stats.get(r.URL.Path)
	if s.audit == nil {
		s.stats.error()
		writeError(w, http.StatusNotFound, "Control audit requires the database")
		return
	}
	q := r.URL.Query()
	if err := s.dispatcher.Authorize(q.Get("token")); err != nil {
		s.stats.error()
		writeControlError(w, err)
		return
	}

	filter := audit.Filter{Action: q.Get("action"), Outcome: q.Get("outcome")}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.stats.error()
		s.logger.Error("listing control audit failed", "error", err)
		writeInternalError(w, "failed to list control audit")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	s.getSetting(w, r, actionReserve)
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	s.getSetting(w, r, actionMode)
}

// getSetting serves GET /control/{action}. Without a token the value is
// answered anonymously. A token query parameter is checked and the read
// is recorded in the audit trail.
func (s *Server) getSetting(w http.ResponseWriter, r *http.Request, action string) {
	s.stats.get(r.URL.Path)
	if !s.dispatcher.ControlEnabled() {
		s.stats.error()
		writeError(w, http.StatusBadRequest, "Control Commands Disabled - Set control secret to enable")
		return
	}

	q := r.URL.Query()
	if q.Has("token") {
		if err := s.dispatcher.Authorize(q.Get("token")); err != nil {
			s.stats.error()
			s.recordControl(r, action, "", audit.OutcomeRejected, err.Message)
			writeControlError(w, err)
			return
		}
		s.recordControl(r, action, "", audit.OutcomeRead, "")
	}
	s.writeSetting(w, r, action)
}

// writeSetting answers the current value of one control action from
// /api/operation.
func (s *Server) writeSetting(w http.ResponseWriter, r *http.Request, action string) {
	res := s.poll(r.Context(), pathOperation, legacy.Options{Force: flag(r.URL.Query().Get("force"))}, true)
	if res.Err != nil || res.Value == nil {
		s.respond(w, res)
		return
	}

	field := "real_mode"
	if action == actionReserve {
		field = "backup_reserve_percent"
	}
	writeJSON(w, http.StatusOK, map[string]any{action: tedapi.Lookup(res.Value, field)})
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
