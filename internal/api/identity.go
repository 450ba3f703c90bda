package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mealbridge/mealbridge-core/internal/auth"
)

// bearerPrefix is the expected Authorization scheme for protected routes.
const bearerPrefix = "Bearer "

// authenticateMiddleware resolves the bearer token to a principal.
//
// The checks run cheapest-first: header shape, signature and purpose are
// pure CPU; only a plausible access token earns a blacklist lookup and a
// user fetch. Every credential defect maps to the same 401 so responses
// cannot be used to probe which stage failed. Infrastructure failures are
// the one exception: they surface as 500, because telling a client its
// token is bad when Redis is down would log users out en masse.
func (s *Server) authenticateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}

		claims, err := s.codec.Decode(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}

		// A refresh token must never act as an access credential.
		if claims.Purpose != auth.PurposeAccess {
			writeError(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}

		blacklisted, err := s.blacklist.Contains(r.Context(), raw)
		if err != nil {
			s.logger.Error("blacklist lookup failed", "error", err)
			writeInternalError(w)
			return
		}
		if blacklisted {
			writeError(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}

		user, err := s.users.GetByID(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				writeError(w, http.StatusUnauthorized, msgBadCredentials)
				return
			}
			s.logger.Error("principal lookup failed", "error", err, "user_id", claims.Subject)
			writeInternalError(w)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireActiveMiddleware rejects principals whose account is deactivated.
// Runs after authenticateMiddleware; a missing principal is a wiring bug
// and treated as unauthenticated.
func (s *Server) requireActiveMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := principalFromContext(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}
		if !user.Active {
			writeError(w, http.StatusBadRequest, msgInactiveUser)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole restricts a route to principals holding one of the given roles.
func (s *Server) requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	allowed := make(map[auth.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := principalFromContext(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, msgBadCredentials)
				return
			}
			if !allowed[user.Role] {
				writeError(w, http.StatusForbidden, msgNotEnoughPrivilege)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from the Authorization header, or "" if
// the header is absent or not a Bearer credential.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, bearerPrefix)
}

// principalFromContext returns the authenticated user stored by
// authenticateMiddleware, or nil outside an authenticated request.
func principalFromContext(ctx context.Context) *auth.User {
	user, _ := ctx.Value(ctxKeyPrincipal).(*auth.User)
	return user
}
