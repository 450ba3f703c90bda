package api

import (
	"net/http"
	"strconv"

	"github.com/mealbridge/mealbridge-core/internal/audit"
)

// recordAudit enqueues an account-activity entry (best-effort, async).
// The source is always "api" here; background jobs stamp their own.
func (s *Server) recordAudit(entry audit.AuditLog) {
	if s.audit == nil {
		return
	}
	entry.Source = "api"
	s.audit.Record(entry)
}

// handleListAuditLogs returns paginated audit entries with optional filters.
// Admin only.
//
// Query parameters:
//   - action: filter by action (login, signup, otp_request, refresh, ...)
//   - entity_type: filter by entity type (user, session)
//   - entity_id: filter by specific entity ID
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
