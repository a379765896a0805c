package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	srv := newServer(testConfig())
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("health returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newServer(testConfig())
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/auth/me", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame options header")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newServer(testConfig())
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/auth/me", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("responses should carry a request ID")
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv := newServer(testConfig())
	huge := strings.NewReader(`{"content":"` + strings.Repeat("x", maxBodySize+1024) + `"}`)
	req := httptest.NewRequest("POST", "/api/auth/login", huge)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized body should fail decoding, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(testConfig())
	for _, path := range []string{"/api/content", "/api/content/structured"} {
		req := httptest.NewRequest("DELETE", path, nil)
		rec := httptest.NewRecorder()
		srv.routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s DELETE: expected 405, got %d", path, rec.Code)
		}
	}
}
