package accesshttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// DefaultUserHeader carries the authenticated user id set by the upstream gateway.
const DefaultUserHeader = "X-User-ID"

// Middleware wires access checks into HTTP handlers.
type Middleware struct {
	Service *access.Service
	Logger  *slog.Logger
}

// Principal reads the user id from header and stores it in the request context. Requests
// without a valid id pass through without a principal.
func Principal(header string, logger *slog.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultUserHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := shared.ParseUserID(r.Header.Get(header))
			if errors.Is(err, shared.ErrUnauthenticated) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				if logger != nil {
					logger.Warn("ignore principal header", slog.String("header", header), slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), id)))
		})
	}
}

// Preload starts warming the principal's permissions without delaying the request.
func (m Middleware) Preload(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := shared.UserIDFromContext(r.Context()); ok {
			m.Service.Preload(r.Context(), userID)
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission allows the request only when the principal holds resource:action.
// A repository failure answers 503 instead of 403 so clients can retry.
func (m Middleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return m.RequireAll(access.PermissionKey{Resource: resource, Action: action})
}

// RequireAll ensures the principal holds every listed permission.
func (m Middleware) RequireAll(keys ...access.PermissionKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				unauthenticated(w)
				return
			}
			for _, key := range keys {
				allowed, err := m.Service.Check(r.Context(), userID, key.Resource, key.Action)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("access require",
							slog.Int64("user_id", userID),
							slog.String("permission", key.String()),
							slog.Any("error", err))
					}
					httpx.RespondError(w, httpx.ErrUnavailable)
					return
				}
				if !allowed {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission "+key.String())
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the principal holds at least one listed permission.
func (m Middleware) RequireAny(keys ...access.PermissionKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				unauthenticated(w)
				return
			}
			set, err := m.Service.Permissions(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("access require any", slog.Int64("user_id", userID), slog.Any("error", err))
				}
				httpx.RespondError(w, httpx.ErrUnavailable)
				return
			}
			for _, key := range keys {
				if set.Has(key.Resource, key.Action) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

func unauthenticated(w http.ResponseWriter) {
	httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnauthorized, shared.ErrUnauthenticated))
}
