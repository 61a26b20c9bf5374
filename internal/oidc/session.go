package oidc

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wadahiro/oauthfiddler/internal/bridge"
)

// SessionCookie names the cookie that keys the bridge session. It carries no
// Max-Age so the browser drops it when the browsing session ends.
const SessionCookie = "oauthfiddler_session"

// SessionStore maps the session cookie to a bridge store.
type SessionStore struct {
	sessions bridge.Sessions
}

// NewSessionStore creates a session store backed by sessions.
func NewSessionStore(sessions bridge.Sessions) *SessionStore {
	return &SessionStore{sessions: sessions}
}

// Get returns the bridge store for the request's session cookie, or nil
// when the request carries none.
func (s *SessionStore) Get(r *http.Request) (bridge.Store, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	return s.sessions.Session(r.Context(), c.Value)
}

// GetOrCreate returns the request's bridge store, starting a new session and
// setting the cookie if needed.
func (s *SessionStore) GetOrCreate(w http.ResponseWriter, r *http.Request) (bridge.Store, error) {
	id := ""
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   isHTTPS(r),
			SameSite: sameSiteMode(r),
		})
	}
	return s.sessions.Session(r.Context(), id)
}

// Delete drops the request's session and expires the cookie.
func (s *SessionStore) Delete(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true,
	})
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	return s.sessions.Delete(r.Context(), c.Value)
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// sameSiteMode allows the cookie on the cross-site form_post navigation when
// served over HTTPS; plain HTTP cannot use SameSite=None.
func sameSiteMode(r *http.Request) http.SameSite {
	if isHTTPS(r) {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
