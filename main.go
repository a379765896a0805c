package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	maxBodySize      = 32 * 1024 // POST bodies
	subscribeTimeout = 5 * time.Second
	recentItemTTL    = 2 * time.Minute
)

// server wires configuration and the stateful stores into the HTTP handlers.
// Each request builds its relay operations from the shared gateway config;
// no relay connection outlives a single operation.
type server struct {
	cfg           *Config
	sessions      *SessionStore
	gateway       *relayGateway
	pending       *pendingConnections
	recent        *recentStore
	markdown      *markdownRenderer
	subscribeWait time.Duration
}

func newServer(cfg *Config) *server {
	return &server{
		cfg:           cfg,
		sessions:      newSessionStore(),
		gateway:       newRelayGateway(cfg.Relays),
		pending:       newPendingConnections(pendingConnectionTTL),
		recent:        newRecentStore(recentItemTTL),
		markdown:      newMarkdownRenderer(),
		subscribeWait: subscribeTimeout,
	}
}

// limitBody wraps a handler to cap request body size.
func limitBody(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// securityHeaders wraps a handler to add standard response headers.
func securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next(w, r)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/connect", securityHeaders(s.handleConnect))
	mux.HandleFunc("/api/auth/connect/status", securityHeaders(s.handleConnectStatus))
	mux.HandleFunc("/api/auth/connect/qr", securityHeaders(s.handleConnectQR))
	mux.HandleFunc("/api/auth/login", securityHeaders(limitBody(s.handleLogin, maxBodySize)))
	mux.HandleFunc("/api/auth/logout", securityHeaders(s.handleLogout))
	mux.HandleFunc("/api/auth/me", securityHeaders(s.handleMe))
	mux.HandleFunc("/api/content", securityHeaders(limitBody(s.handleContent, maxBodySize)))
	mux.HandleFunc("/api/content/structured", securityHeaders(limitBody(s.handleStructured, maxBodySize)))
	mux.HandleFunc("/health", healthHandler)

	return requestLogging(mux)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func main() {
	initLogger()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	srv := newServer(cfg)

	// Watch relays for remote-signer pairing responses.
	newConnectListener(cfg.Relays, srv.pending).Start()

	slog.Info("starting server",
		"port", cfg.Port,
		"relays", cfg.Relays,
		"signer", cfg.HasSigner(),
	)
	if err := http.ListenAndServe(":"+cfg.Port, srv.routes()); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
