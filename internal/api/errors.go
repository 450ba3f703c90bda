package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mealbridge/mealbridge-core/internal/auth"
)

// response is the envelope every endpoint returns, success or failure.
// Mobile and web clients switch on the success flag and surface message
// verbatim, so the exact strings below are part of the API contract.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Canonical user-facing messages. Coarseness on the credential paths is
// deliberate: the login message never distinguishes a missing account from
// a wrong password, and the refresh message never distinguishes forged,
// expired and revoked tokens.
const (
	msgInvalidCredentials = "Incorrect email or password"
	msgInactiveUser       = "Inactive user"
	msgEmailExists        = "The user with this username already exists in the system"
	msgUserNotFound       = "User not found"
	msgOTPAdminOnly       = "OTP login is only available for admin users"
	msgOTPInvalid         = "Invalid OTP"
	msgOTPExpired         = "OTP expired or invalid"
	msgOTPSendFailed      = "Failed to send OTP email. Please check email configuration."
	msgRefreshFailed      = "Failed to refresh token"
	msgBadCredentials     = "Could not validate credentials"
	msgNotEnoughPrivilege = "The user doesn't have enough privileges"
	msgUnexpected         = "An unexpected error occurred"
	msgInvalidEmail       = "Invalid email address"
	msgInvalidRole        = "Invalid role"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// writeAuthError maps a session-service error onto the envelope.
//
// Credential-class sentinels get their contractual status and message;
// anything unrecognised is an infrastructure failure, logged with full
// context by the caller and surfaced as an opaque 500.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, msgInvalidCredentials)
	case errors.Is(err, auth.ErrUserInactive):
		writeError(w, http.StatusBadRequest, msgInactiveUser)
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusBadRequest, msgEmailExists)
	case errors.Is(err, auth.ErrInvalidEmail):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidEmail)
	case errors.Is(err, auth.ErrInvalidRole):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidRole)
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, msgUserNotFound)
	case errors.Is(err, auth.ErrOTPAdminOnly):
		writeError(w, http.StatusForbidden, msgOTPAdminOnly)
	case errors.Is(err, auth.ErrOTPInvalid):
		writeError(w, http.StatusBadRequest, msgOTPInvalid)
	case errors.Is(err, auth.ErrOTPExpired):
		writeError(w, http.StatusBadRequest, msgOTPExpired)
	case errors.Is(err, auth.ErrOTPDeliveryFailed):
		writeError(w, http.StatusInternalServerError, msgOTPSendFailed)
	case errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, msgRefreshFailed)
	default:
		s.logger.Error("unhandled auth service error", "error", err)
		writeError(w, http.StatusInternalServerError, msgUnexpected)
	}
}

// writeBadRequest writes a 400 failure envelope.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message)
}

// writeInternalError writes the opaque 500 failure envelope.
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, msgUnexpected)
}
