package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
)

const (
	sessionCookieName = "nostr-session"
	sessionMaxAge     = 7 * 24 * time.Hour
)

// SessionData is the authenticated identity carried by the session cookie.
// CreatedAt is unix milliseconds.
type SessionData struct {
	PublicKey string `json:"publicKey"`
	CreatedAt int64  `json:"createdAt"`
}

// SessionStore maps an authenticated public key to an http-only cookie and
// validates expiry on every read. The cookie jar is the only storage; there
// is no server-side session table.
type SessionStore struct {
	name   string
	maxAge time.Duration
	now    func() time.Time
}

func newSessionStore() *SessionStore {
	return &SessionStore{
		name:   sessionCookieName,
		maxAge: sessionMaxAge,
		now:    time.Now,
	}
}

// Create writes the session cookie for the given public key.
func (s *SessionStore) Create(w http.ResponseWriter, r *http.Request, publicKey string) {
	session := SessionData{
		PublicKey: publicKey,
		CreatedAt: s.now().UnixMilli(),
	}
	payload, _ := json.Marshal(session)

	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		MaxAge:   int(s.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   shouldSecureCookie(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// Read returns the session from the request cookie, or nil when the cookie is
// missing, malformed, or expired. Malformed input never errors; it degrades
// to unauthenticated.
func (s *SessionStore) Read(r *http.Request) *SessionData {
	cookie, err := r.Cookie(s.name)
	if err != nil || cookie.Value == "" {
		return nil
	}

	payload, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}

	var session SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil
	}
	if session.PublicKey == "" {
		return nil
	}
	if s.now().UnixMilli()-session.CreatedAt > s.maxAge.Milliseconds() {
		return nil
	}
	return &session
}

// Destroy deletes the session cookie.
func (s *SessionStore) Destroy(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   shouldSecureCookie(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// shouldSecureCookie marks cookies Secure when the request arrived over TLS,
// directly or via a proxy.
func shouldSecureCookie(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
