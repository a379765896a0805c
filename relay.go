package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Filter is a relay query. Optional fields are explicit; the NIP-01 wire map
// is built internally.
type Filter struct {
	Kinds   []int
	Authors []string
	DTags   []string // "#d" tag values
	Since   *int64
	Limit   int
}

func (f Filter) wire() map[string]interface{} {
	m := map[string]interface{}{}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.DTags) > 0 {
		m["#d"] = f.DTags
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return m
}

var errPublishFailed = errors.New("no relay acknowledged event")

// relayGateway wraps publish and subscribe against the configured relays.
// Connections are opened and closed per logical operation; a gateway holds
// no sockets between calls.
type relayGateway struct {
	relays        []string
	ackTimeout    time.Duration // per-relay wait for an OK after EVENT
	indexingGrace time.Duration // pause after a successful publish
}

func newRelayGateway(relays []string) *relayGateway {
	return &relayGateway{
		relays:        relays,
		ackTimeout:    10 * time.Second,
		indexingGrace: 500 * time.Millisecond,
	}
}

// Publish sends the event to every configured relay concurrently and waits
// for all outcomes. It succeeds if at least one relay acknowledges the event,
// then observes a fixed indexing grace before returning.
func (g *relayGateway) Publish(ctx context.Context, evt *Event) error {
	results := make([]error, len(g.relays))
	var wg sync.WaitGroup
	for i, relay := range g.relays {
		wg.Add(1)
		go func(i int, relayURL string) {
			defer wg.Done()
			results[i] = g.publishToRelay(ctx, relayURL, evt)
		}(i, relay)
	}
	wg.Wait()

	var lastErr error
	acked := false
	for i, err := range results {
		if err == nil {
			acked = true
		} else {
			lastErr = err
			loggerFromContext(ctx).Warn("publish failed", "relay", g.relays[i], "error", err)
		}
	}
	if !acked {
		return fmt.Errorf("%w: %v", errPublishFailed, lastErr)
	}

	// Let relay-side indexing begin before connections close.
	select {
	case <-time.After(g.indexingGrace):
	case <-ctx.Done():
	}
	return nil
}

func (g *relayGateway) publishToRelay(ctx context.Context, relayURL string, evt *Event) error {
	dialCtx, cancel := context.WithTimeout(ctx, g.ackTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON([]interface{}{"EVENT", evt}); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(g.ackTimeout))
	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("no acknowledgment: %w", err)
		}
		if len(msg) < 3 {
			continue
		}
		msgType, _ := msg[0].(string)
		if msgType != "OK" {
			continue
		}
		eventID, _ := msg[1].(string)
		if eventID != evt.ID {
			continue
		}
		accepted, _ := msg[2].(bool)
		if !accepted {
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}
			return fmt.Errorf("relay rejected event: %s", reason)
		}
		return nil
	}
}

// Subscribe opens a subscription on every configured relay and collects
// events until each dialed relay signals end-of-stored-events or the timeout
// elapses, whichever comes first. A timeout returns whatever was collected;
// it is best-effort degradation, not a failure.
func (g *relayGateway) Subscribe(ctx context.Context, filter Filter, timeout time.Duration) []Event {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eventChan := make(chan Event, 256)
	var wg sync.WaitGroup
	for _, relay := range g.relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			g.streamFromRelay(ctx, relayURL, filter, eventChan)
		}(relay)
	}

	// All streams return on EOSE, error, or context expiry, so the channel
	// close below is the "all relays settled" signal.
	go func() {
		wg.Wait()
		close(eventChan)
	}()

	seen := make(map[string]bool)
	var events []Event

collect:
	for {
		select {
		case evt, ok := <-eventChan:
			if !ok {
				break collect
			}
			if !seen[evt.ID] {
				seen[evt.ID] = true
				events = append(events, evt)
			}
		case <-ctx.Done():
			loggerFromContext(ctx).Debug("subscribe timeout", "collected", len(events))
			break collect
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID > events[j].ID
	})
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events
}

func (g *relayGateway) streamFromRelay(ctx context.Context, relayURL string, filter Filter, eventChan chan<- Event) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		loggerFromContext(ctx).Warn("relay connect failed", "relay", relayURL, "error", err)
		return
	}
	defer conn.Close()

	subID := "sub-" + generateRequestID()
	if err := conn.WriteJSON([]interface{}{"REQ", subID, filter.wire()}); err != nil {
		loggerFromContext(ctx).Warn("subscribe failed", "relay", relayURL, "error", err)
		return
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			evt, ok := parseEventValue(msg[2])
			if !ok {
				continue
			}
			select {
			case eventChan <- evt:
			case <-ctx.Done():
				return
			}
		case "EOSE":
			return
		case "CLOSED":
			return
		}
	}
}

// parseEventValue converts a decoded JSON value into an Event.
func parseEventValue(v interface{}) (Event, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Event{}, false
	}
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, false
	}
	return evt, true
}
