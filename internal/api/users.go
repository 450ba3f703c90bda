package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mealbridge/mealbridge-core/internal/audit"
	"github.com/mealbridge/mealbridge-core/internal/auth"
)

// User listing page bounds.
const (
	defaultUserPageSize = 100
	maxUserPageSize     = 200
)

// ─── Request Types ─────────────────────────────────────────────────

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleMe returns the authenticated principal.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := principalFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handlePatchMe applies a partial update to the authenticated principal.
//
// Only fields present in the body change; absent fields keep their stored
// values. A password change is hashed here and never echoed back.
func (s *Server) handlePatchMe(w http.ResponseWriter, r *http.Request) {
	user := principalFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	var patch auth.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if patch.Password != nil && *patch.Password == "" {
		writeBadRequest(w, "password cannot be empty")
		return
	}

	if patch.FullName != nil {
		user.FullName = *patch.FullName
	}
	if patch.PhoneNumber != nil {
		user.PhoneNumber = *patch.PhoneNumber
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.logger.Error("profile update failed", "error", err, "user_id", user.ID)
		writeInternalError(w)
		return
	}

	if patch.Password != nil {
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			s.logger.Error("password hash failed", "error", err, "user_id", user.ID)
			writeInternalError(w)
			return
		}
		if err := s.users.UpdatePassword(r.Context(), user.ID, hash); err != nil {
			s.logger.Error("password update failed", "error", err, "user_id", user.ID)
			writeInternalError(w)
			return
		}

		// A new password orphans every outstanding session: whoever held
		// the old credential loses their refresh tokens with it.
		revoked, err := s.tokens.RevokeAllForUser(r.Context(), user.ID)
		if err != nil {
			s.logger.Error("revoke sessions after password change failed", "error", err, "user_id", user.ID)
		} else {
			s.logger.Info("sessions revoked after password change", "user_id", user.ID, "count", revoked)
		}
	}

	s.recordAudit(audit.AuditLog{
		Action:     audit.ActionUserUpdate,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     user.ID,
		Details:    map[string]any{"password_changed": patch.Password != nil},
	})

	writeJSON(w, http.StatusOK, user)
}

// handleListUsers returns a page of user accounts. Admin only.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := defaultUserPageSize
	offset := 0

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxUserPageSize {
		limit = maxUserPageSize
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}

	users, err := s.users.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w)
		return
	}

	total, err := s.users.Count(r.Context())
	if err != nil {
		s.logger.Error("count users failed", "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":  users,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleSetUserActive activates or deactivates an account. Admin only.
//
// Deactivation revokes every refresh token the account holds, so existing
// sessions die at their next refresh rather than living out their TTL.
func (s *Server) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	admin := principalFromContext(r.Context())
	if admin == nil {
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Active == nil {
		writeBadRequest(w, "active is required")
		return
	}

	// An admin locking themselves out is never what anyone meant.
	if id == admin.ID && !*req.Active {
		writeError(w, http.StatusForbidden, "cannot deactivate your own account")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		s.logger.Error("get user for activation failed", "error", err, "user_id", id)
		writeInternalError(w)
		return
	}

	if err := s.users.SetActive(r.Context(), id, *req.Active); err != nil {
		s.logger.Error("set active failed", "error", err, "user_id", id)
		writeInternalError(w)
		return
	}
	user.Active = *req.Active

	action := audit.ActionUserActivate
	if !*req.Active {
		action = audit.ActionUserDeactivate

		revoked, err := s.tokens.RevokeAllForUser(r.Context(), id)
		if err != nil {
			s.logger.Error("revoke sessions after deactivation failed", "error", err, "user_id", id)
		} else {
			s.logger.Info("sessions revoked after deactivation", "user_id", id, "count", revoked)
		}
	}

	s.recordAudit(audit.AuditLog{
		Action:     action,
		EntityType: audit.EntityUser,
		EntityID:   id,
		UserID:     admin.ID,
		Details:    map[string]any{"email": user.Email},
	})

	writeJSON(w, http.StatusOK, user)
}
