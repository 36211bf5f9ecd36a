// Package api serves the dataset page and its JSON API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/session"
)

const (
	// SessionCookie carries the session id for browsers.
	SessionCookie = "offbalance_session"
	// SessionHeader carries the session id for API clients without cookies.
	SessionHeader = "X-Session-ID"
)

type ctxKey struct{}

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoadSession attaches the caller's live session, if any, to the request
// context. It never starts one.
func LoadSession(m *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess, err := lookupSession(m, r); err == nil {
				r = withSession(w, r, sess)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnsureSession starts a session when the request carries no live one.
// Mount it after auth and only on routes that change state.
func EnsureSession(m *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessionFrom(r) == nil {
				r = withSession(w, r, m.Create())
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession answers 404 when the request carries no live session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r) == nil {
			writeJSON(w, http.StatusNotFound, errorBody("session not found"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withSession stores sess in the context and echoes its id in both the
// cookie and the X-Session-ID response header.
func withSession(w http.ResponseWriter, r *http.Request, sess *session.Session) *http.Request {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(SessionHeader, sess.ID())
	return r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess))
}

func lookupSession(m *session.Manager, r *http.Request) (*session.Session, error) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		return nil, apperr.ErrNotFound
	}
	return m.Get(id)
}

// sessionFrom returns the session attached to r, or nil.
func sessionFrom(r *http.Request) *session.Session {
	s, _ := r.Context().Value(ctxKey{}).(*session.Session)
	return s
}
