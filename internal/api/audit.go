package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/targetd/internal/audit"
)

// record appends an audit entry for the authenticated caller. Failures are
// logged and never fail the request.
func (s *Server) record(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	e := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     "api",
		Details:    details,
	}
	if claims := claimsFromContext(ctx); claims != nil {
		e.Subject = claims.Subject
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn("recording audit entry failed",
			"action", action,
			"entity_type", entityType,
			"error", err,
			"request_id", ctx.Value(ctxKeyRequestID),
		)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters: action, entity_type, entity_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, audit.ListResult{Entries: []audit.Entry{}, Limit: audit.DefaultLimit})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "listing audit entries failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
