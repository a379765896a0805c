package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// stubRelay runs an in-process relay speaking just enough of the protocol
// for gateway tests. The behavior func owns the connection after upgrade.
func stubRelay(t *testing.T, behavior func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		behavior(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// ackingRelay acknowledges every published event.
func ackingRelay(conn *websocket.Conn) {
	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) >= 2 && msg[0] == "EVENT" {
			evt, _ := parseEventValue(msg[1])
			conn.WriteJSON([]interface{}{"OK", evt.ID, true, ""})
		}
	}
}

// rejectingRelay refuses every published event.
func rejectingRelay(conn *websocket.Conn) {
	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) >= 2 && msg[0] == "EVENT" {
			evt, _ := parseEventValue(msg[1])
			conn.WriteJSON([]interface{}{"OK", evt.ID, false, "blocked: not welcome"})
		}
	}
}

// servingRelay answers any REQ with the given events followed by EOSE.
func servingRelay(events []Event, sendEOSE bool) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		for {
			var msg []interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if len(msg) < 2 || msg[0] != "REQ" {
				continue
			}
			subID, _ := msg[1].(string)
			for i := range events {
				conn.WriteJSON([]interface{}{"EVENT", subID, events[i]})
			}
			if sendEOSE {
				conn.WriteJSON([]interface{}{"EOSE", subID})
			}
		}
	}
}

func testGateway(relays ...string) *relayGateway {
	g := newRelayGateway(relays)
	g.ackTimeout = 2 * time.Second
	g.indexingGrace = time.Millisecond
	return g
}

func TestPublishSuccess(t *testing.T) {
	g := testGateway(stubRelay(t, ackingRelay))

	evt := &Event{ID: "abc123", Kind: kindTextNote, Content: "hello"}
	if err := g.Publish(context.Background(), evt); err != nil {
		t.Errorf("publish to an acking relay failed: %v", err)
	}
}

func TestPublishRejected(t *testing.T) {
	g := testGateway(stubRelay(t, rejectingRelay))

	evt := &Event{ID: "abc123", Kind: kindTextNote, Content: "hello"}
	err := g.Publish(context.Background(), evt)
	if !errors.Is(err, errPublishFailed) {
		t.Errorf("expected errPublishFailed, got %v", err)
	}
}

func TestPublishSucceedsOnPartialAck(t *testing.T) {
	g := testGateway(
		stubRelay(t, rejectingRelay),
		stubRelay(t, ackingRelay),
	)

	evt := &Event{ID: "abc123", Kind: kindTextNote, Content: "hello"}
	if err := g.Publish(context.Background(), evt); err != nil {
		t.Errorf("one acknowledgment should be enough: %v", err)
	}
}

func TestPublishUnreachableRelay(t *testing.T) {
	g := testGateway("ws://127.0.0.1:1")
	g.ackTimeout = 500 * time.Millisecond

	evt := &Event{ID: "abc123", Kind: kindTextNote}
	if err := g.Publish(context.Background(), evt); !errors.Is(err, errPublishFailed) {
		t.Errorf("expected errPublishFailed, got %v", err)
	}
}

func TestSubscribeCollectsUntilEOSE(t *testing.T) {
	events := []Event{
		{ID: "older", Kind: 1, CreatedAt: 100, Content: "first"},
		{ID: "newer", Kind: 1, CreatedAt: 200, Content: "second"},
	}
	g := testGateway(stubRelay(t, servingRelay(events, true)))

	got := g.Subscribe(context.Background(), Filter{Kinds: []int{1}}, 3*time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != "newer" || got[1].ID != "older" {
		t.Errorf("events not sorted newest-first: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestSubscribeTimeoutReturnsPartial(t *testing.T) {
	events := []Event{{ID: "only", Kind: 1, CreatedAt: 100}}
	// No EOSE: the gateway must give up at the timeout and keep what it has.
	g := testGateway(stubRelay(t, servingRelay(events, false)))

	start := time.Now()
	got := g.Subscribe(context.Background(), Filter{Kinds: []int{1}}, 300*time.Millisecond)
	if len(got) != 1 {
		t.Errorf("expected the partial result, got %d events", len(got))
	}
	if time.Since(start) > 2*time.Second {
		t.Error("subscribe did not respect its timeout")
	}
}

func TestSubscribeDeduplicatesAcrossRelays(t *testing.T) {
	events := []Event{{ID: "dup", Kind: 1, CreatedAt: 100}}
	g := testGateway(
		stubRelay(t, servingRelay(events, true)),
		stubRelay(t, servingRelay(events, true)),
	)

	got := g.Subscribe(context.Background(), Filter{Kinds: []int{1}}, 3*time.Second)
	if len(got) != 1 {
		t.Errorf("same event from two relays should collapse to one, got %d", len(got))
	}
}

func TestSubscribeAppliesLimit(t *testing.T) {
	events := []Event{
		{ID: "a", Kind: 1, CreatedAt: 100},
		{ID: "b", Kind: 1, CreatedAt: 200},
		{ID: "c", Kind: 1, CreatedAt: 300},
	}
	g := testGateway(stubRelay(t, servingRelay(events, true)))

	got := g.Subscribe(context.Background(), Filter{Kinds: []int{1}, Limit: 2}, 3*time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("limit should keep the newest events: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestSubscribeUnreachableRelayReturnsEmpty(t *testing.T) {
	g := testGateway("ws://127.0.0.1:1")

	got := g.Subscribe(context.Background(), Filter{Kinds: []int{1}}, 500*time.Millisecond)
	if len(got) != 0 {
		t.Errorf("expected no events, got %d", len(got))
	}
}

func TestFilterWire(t *testing.T) {
	since := int64(1700000000)
	f := Filter{
		Kinds:   []int{30000},
		Authors: []string{testPubKeyHex},
		DTags:   []string{"mission"},
		Since:   &since,
		Limit:   10,
	}

	m := f.wire()
	if _, ok := m["kinds"]; !ok {
		t.Error("kinds missing from wire filter")
	}
	if _, ok := m["#d"]; !ok {
		t.Error("#d missing from wire filter")
	}
	if m["since"] != since {
		t.Errorf("since: %v", m["since"])
	}
	if m["limit"] != 10 {
		t.Errorf("limit: %v", m["limit"])
	}

	empty := Filter{}.wire()
	if len(empty) != 0 {
		t.Errorf("empty filter should produce an empty map: %v", empty)
	}
}
