package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mealbridge/mealbridge-core/internal/audit"
	"github.com/mealbridge/mealbridge-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type otpRequestBody struct {
	Email string `json:"email"`
}

type otpVerifyBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutBody struct {
	RefreshToken string `json:"refresh_token"`
}

// otpRequestResponse mirrors the shape mobile clients already parse.
type otpRequestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Email   string `json:"email"`
}

type logoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleLogin authenticates email+password form credentials and returns
// a token pair.
//
// The body is form-encoded with username/password fields (the username
// carries the email) for OAuth2 password-flow client compatibility.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeBadRequest(w, "invalid form body")
		return
	}

	email := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	pair, err := s.sessions.Login(r.Context(), email, password)
	if err != nil {
		loginsTotal.WithLabelValues(resultFailure).Inc()
		if isLoginRejection(err) {
			s.recordAudit(audit.AuditLog{
				Action:     audit.ActionLoginFailed,
				EntityType: audit.EntityUser,
				Details:    map[string]any{"email": email},
			})
		}
		s.writeAuthError(w, err)
		return
	}

	loginsTotal.WithLabelValues(resultSuccess).Inc()
	userID := s.subjectOf(pair)
	s.recordAudit(audit.AuditLog{
		Action:     audit.ActionLogin,
		EntityType: audit.EntityUser,
		EntityID:   userID,
		UserID:     userID,
		Details:    map[string]any{"email": email},
	})

	writeJSON(w, http.StatusOK, pair)
}

// handleSignup registers a new account. No tokens are issued; the client
// logs in afterwards.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var params auth.SignupParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if params.Email == "" || params.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	user, err := s.sessions.Signup(r.Context(), params)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.recordAudit(audit.AuditLog{
		Action:     audit.ActionSignup,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     user.ID,
		Details:    map[string]any{"email": user.Email, "role": user.Role},
	})

	writeJSON(w, http.StatusCreated, user)
}

// handleRequestOTP generates and emails a one-time password for admin
// step-up login.
func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	if err := s.sessions.RequestOTP(r.Context(), req.Email); err != nil {
		otpRequestsTotal.WithLabelValues(resultFailure).Inc()
		s.writeAuthError(w, err)
		return
	}

	otpRequestsTotal.WithLabelValues(resultSuccess).Inc()
	s.recordAudit(audit.AuditLog{
		Action:     audit.ActionOTPRequest,
		EntityType: audit.EntityUser,
		Details:    map[string]any{"email": req.Email},
	})

	writeJSON(w, http.StatusOK, otpRequestResponse{
		Success: true,
		Message: fmt.Sprintf("OTP sent to %s", req.Email),
		Email:   req.Email,
	})
}

// handleVerifyOTP exchanges a valid one-time password for a token pair.
func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Code == "" {
		writeBadRequest(w, "email and code are required")
		return
	}

	pair, err := s.sessions.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	userID := s.subjectOf(pair)
	s.recordAudit(audit.AuditLog{
		Action:     audit.ActionOTPVerify,
		EntityType: audit.EntityUser,
		EntityID:   userID,
		UserID:     userID,
		Details:    map[string]any{"email": req.Email},
	})

	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh rotates a refresh token into a fresh pair.
//
// Every credential defect — forged, expired, revoked, or a dead account —
// maps to the same opaque 401. Infrastructure failures stay 500: mass
// client logout is the wrong response to Redis being down.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		tokenRefreshesTotal.WithLabelValues(resultFailure).Inc()
		if isCredentialError(err) {
			writeError(w, http.StatusUnauthorized, msgRefreshFailed)
			return
		}
		s.logger.Error("token refresh failed", "error", err)
		writeInternalError(w)
		return
	}

	tokenRefreshesTotal.WithLabelValues(resultSuccess).Inc()
	userID := s.subjectOf(pair)
	s.recordAudit(audit.AuditLog{
		Action:     audit.ActionRefresh,
		EntityType: audit.EntitySession,
		EntityID:   userID,
		UserID:     userID,
	})

	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the presented refresh token for the authenticated
// principal.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := principalFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	var req logoutBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	if err := s.sessions.Logout(r.Context(), user, req.RefreshToken); err != nil {
		s.logger.Error("logout failed", "error", err, "user_id", user.ID)
		writeInternalError(w)
		return
	}

	s.recordAudit(audit.AuditLog{
		Action:     audit.ActionLogout,
		EntityType: audit.EntitySession,
		EntityID:   user.ID,
		UserID:     user.ID,
	})

	writeJSON(w, http.StatusOK, logoutResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

// ─── Helpers ───────────────────────────────────────────────────────

// isLoginRejection reports whether err is a credential rejection worth an
// audit entry, as opposed to an infrastructure failure (which is logged,
// not audited — the trail records account activity, not outages).
func isLoginRejection(err error) bool {
	return errors.Is(err, auth.ErrInvalidCredentials) ||
		errors.Is(err, auth.ErrUserInactive)
}

// isCredentialError reports whether err is a token/account defect rather
// than an infrastructure failure.
func isCredentialError(err error) bool {
	return errors.Is(err, auth.ErrTokenInvalid) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrTokenRevoked) ||
		errors.Is(err, auth.ErrUserInactive)
}

// subjectOf recovers the user ID from a freshly minted pair for audit
// attribution. The token was signed moments ago, so decode cannot fail
// in practice; on the off chance it does, the entry goes in unattributed.
func (s *Server) subjectOf(pair *auth.TokenPair) string {
	claims, err := s.codec.Decode(pair.AccessToken)
	if err != nil {
		return ""
	}
	return claims.Subject
}
