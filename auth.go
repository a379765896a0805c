package main

import (
	"encoding/hex"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

// validateAuthEvent checks a client-submitted login event: signature first,
// then the fixed auth kind. On success the event's author is the
// authenticated identity. Timestamp freshness and nonces are deliberately
// not checked.
func validateAuthEvent(evt *Event) (string, error) {
	if err := verifyEvent(evt); err != nil {
		return "", errInvalidSignature
	}
	if evt.Kind != kindClientAuth {
		return "", errWrongKind
	}
	return evt.PubKey, nil
}

type loginRequest struct {
	Event *Event `json:"event"`
}

// handleLogin accepts a signed kind 22242 auth event and establishes a session.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req loginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Event == nil {
		respondError(w, http.StatusBadRequest, "EVENT_REQUIRED", "event is required")
		return
	}

	publicKey, err := validateAuthEvent(req.Event)
	switch err {
	case nil:
	case errWrongKind:
		respondError(w, http.StatusBadRequest, "WRONG_KIND", "expected auth event (kind 22242)")
		return
	case errInvalidSignature:
		respondError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid event signature")
		return
	default:
		respondError(w, http.StatusInternalServerError, "LOGIN_FAILED", "failed to login")
		return
	}

	s.sessions.Create(w, r, publicKey)
	loggerFromContext(r.Context()).Info("login", "pubkey", publicKey[:12])

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"publicKey": publicKey,
	})
}

// handleLogout clears the session. Always succeeds.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}
	s.sessions.Destroy(w, r)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMe reports the current session identity.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := s.sessions.Read(r)
	if session == nil {
		respondJSON(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"publicKey":     session.PublicKey,
	})
}

// handleConnect mints a fresh pairing token and returns the nostrconnect URI.
func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	token, err := generateConnectionToken()
	if err != nil {
		loggerFromContext(r.Context()).Error("token generation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "CONNECT_FAILED", "failed to generate connection")
		return
	}

	uri := buildConnectURI(token.PublicKey, s.cfg.Relays[0], s.cfg.AppName, s.cfg.AppURL)

	s.pending.Add(&pendingConnection{
		AppPrivKey: token.Secret,
		AppPubKey:  token.PublicKey,
		Secret:     hex.EncodeToString(token.Secret),
		URI:        uri,
		CreatedAt:  s.pending.now(),
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"uri":          uri,
		"appPublicKey": token.PublicKey,
	})
}

// handleConnectStatus reports whether a signer has answered a pairing attempt.
func (s *server) handleConnectStatus(w http.ResponseWriter, r *http.Request) {
	appPubKey := r.URL.Query().Get("appPublicKey")
	pc := s.pending.Get(appPubKey)
	if pc == nil {
		respondError(w, http.StatusNotFound, "UNKNOWN_CONNECTION", "no pending connection for that key")
		return
	}

	connected, userPubKey := pc.status()
	body := map[string]interface{}{"connected": connected}
	if userPubKey != "" {
		body["publicKey"] = userPubKey
	}
	respondJSON(w, http.StatusOK, body)
}

// handleConnectQR renders the pairing URI of a pending connection as a PNG.
func (s *server) handleConnectQR(w http.ResponseWriter, r *http.Request) {
	appPubKey := r.URL.Query().Get("appPublicKey")
	pc := s.pending.Get(appPubKey)
	if pc == nil {
		respondError(w, http.StatusNotFound, "UNKNOWN_CONNECTION", "no pending connection for that key")
		return
	}

	png, err := qrcode.Encode(pc.URI, qrcode.Medium, 256)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QR_FAILED", "failed to render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}
