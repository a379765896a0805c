package main

import (
	"net/http"
	"strings"
)

const (
	contentFetchLimit     = 10
	credentialsMissingMsg = "Nostr credentials are not configured. Set NOSTR_PRIVATE_KEY."
)

type contentRequest struct {
	Content string `json:"content"`
}

type structuredRequest struct {
	Event   *Event `json:"event"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// handleContent serves freeform posts: POST publishes a server-signed kind 1
// note, GET lists the author's recent notes.
func (s *server) handleContent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createPost(w, r)
	case http.MethodGet:
		s.listPosts(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or POST")
	}
}

func (s *server) createPost(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "CONTENT_REQUIRED", "content is required")
		return
	}
	if !s.cfg.HasSigner() {
		respondError(w, http.StatusServiceUnavailable, "NOSTR_CREDENTIALS_MISSING", credentialsMissingMsg)
		return
	}

	evt, err := newSignedEvent(s.cfg.PrivateKey, kindTextNote, [][]string{}, req.Content)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SIGNING_FAILED", "failed to sign event")
		return
	}

	if err := s.gateway.Publish(r.Context(), evt); err != nil {
		loggerFromContext(r.Context()).Error("publish failed", "error", err)
		respondError(w, http.StatusInternalServerError, "FAILED_TO_PUBLISH", err.Error())
		return
	}

	item := toPostItem(evt)
	s.recent.RecordPost(evt.PubKey, item)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"id":        item.ID,
		"content":   item.Content,
		"createdAt": item.CreatedAt,
	})
}

func (s *server) listPosts(w http.ResponseWriter, r *http.Request) {
	author := s.readIdentity(r)
	if author == "" {
		respondError(w, http.StatusServiceUnavailable, "NOSTR_CREDENTIALS_MISSING", credentialsMissingMsg)
		return
	}

	events := s.gateway.Subscribe(r.Context(), Filter{
		Kinds:   []int{kindTextNote},
		Authors: []string{author},
		Limit:   contentFetchLimit,
	}, s.subscribeWait)

	items := make([]PostItem, 0, len(events))
	seen := make(map[string]bool, len(events))
	for i := range events {
		item := toPostItem(&events[i])
		items = append(items, item)
		seen[item.ID] = true
	}
	// Posts published moments ago may not be indexed yet.
	for _, item := range s.recent.LivePosts(author) {
		if !seen[item.ID] {
			items = append(items, item)
		}
	}
	items = sortPostsByRecency(items)

	if wantsHTML(r) {
		for i := range items {
			items[i].HTML = s.markdown.Render(items[i].Content)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// handleStructured serves named replaceable documents (kind 30000, d-tag keyed).
func (s *server) handleStructured(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createStructured(w, r)
	case http.MethodGet:
		s.listStructured(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or POST")
	}
}

// createStructured accepts either a pre-signed event (verified and matched
// against the session author) or a name/content pair signed server-side.
func (s *server) createStructured(w http.ResponseWriter, r *http.Request) {
	var req structuredRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	var evt *Event
	if req.Event != nil {
		session := s.sessions.Read(r)
		if session == nil {
			respondError(w, http.StatusUnauthorized, "NO_SESSION", "login required")
			return
		}
		if err := verifyEvent(req.Event); err != nil {
			respondError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid event signature")
			return
		}
		if req.Event.Kind != kindStructuredContent {
			respondError(w, http.StatusBadRequest, "WRONG_KIND", "expected structured content event (kind 30000)")
			return
		}
		if req.Event.PubKey != session.PublicKey {
			respondError(w, http.StatusForbidden, "AUTHOR_MISMATCH", "event author does not match session")
			return
		}
		if !hasDTag(req.Event) {
			respondError(w, http.StatusBadRequest, "NAME_REQUIRED", "event is missing a d tag")
			return
		}
		evt = req.Event
	} else {
		if strings.TrimSpace(req.Name) == "" {
			respondError(w, http.StatusBadRequest, "NAME_REQUIRED", "content name is required")
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			respondError(w, http.StatusBadRequest, "CONTENT_REQUIRED", "content is required")
			return
		}
		if !s.cfg.HasSigner() {
			respondError(w, http.StatusServiceUnavailable, "NOSTR_CREDENTIALS_MISSING", credentialsMissingMsg)
			return
		}
		signed, err := newSignedEvent(s.cfg.PrivateKey, kindStructuredContent,
			[][]string{{"d", req.Name}}, req.Content)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "SIGNING_FAILED", "failed to sign event")
			return
		}
		evt = signed
	}

	if err := s.gateway.Publish(r.Context(), evt); err != nil {
		loggerFromContext(r.Context()).Error("publish failed", "error", err)
		respondError(w, http.StatusInternalServerError, "FAILED_TO_PUBLISH", err.Error())
		return
	}

	item := toStructuredItem(evt)
	s.recent.RecordStructured(evt.PubKey, item)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"id":        item.ID,
		"name":      item.Name,
		"content":   item.Content,
		"createdAt": item.CreatedAt,
	})
}

func (s *server) listStructured(w http.ResponseWriter, r *http.Request) {
	author := s.readIdentity(r)
	if author == "" {
		respondError(w, http.StatusServiceUnavailable, "NOSTR_CREDENTIALS_MISSING", credentialsMissingMsg)
		return
	}

	name := r.URL.Query().Get("name")
	filter := Filter{
		Kinds:   []int{kindStructuredContent},
		Authors: []string{author},
	}
	if name != "" {
		filter.DTags = []string{name}
	}

	events := s.gateway.Subscribe(r.Context(), filter, s.subscribeWait)

	items := make([]StructuredItem, 0, len(events))
	for i := range events {
		items = append(items, toStructuredItem(&events[i]))
	}
	// A later event with the same name supersedes earlier ones.
	items = newestPerName(items)

	optimistic := s.recent.LiveStructured(author)
	if name != "" {
		filtered := optimistic[:0]
		for _, item := range optimistic {
			if item.Name == name {
				filtered = append(filtered, item)
			}
		}
		optimistic = filtered
	}
	items = sortItemsByRecency(mergeOptimistic(optimistic, items))

	if wantsHTML(r) {
		for i := range items {
			items[i].HTML = s.markdown.Render(items[i].Content)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// readIdentity resolves whose content a read serves: the session's author if
// logged in, else the configured fallback identity.
func (s *server) readIdentity(r *http.Request) string {
	if session := s.sessions.Read(r); session != nil {
		return session.PublicKey
	}
	return s.cfg.PublicKey
}

func hasDTag(evt *Event) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			return true
		}
	}
	return false
}

func wantsHTML(r *http.Request) bool {
	return r.URL.Query().Get("render") == "html"
}
