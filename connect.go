package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Remote-signer pairing over nostrconnect://. Each connect attempt mints an
// ephemeral app keypair; the signer answers with a kind 24133 event encrypted
// to that keypair, which the background listener picks up.

const (
	pendingConnectionTTL = 10 * time.Minute
	listenCycleBudget    = 30 * time.Second
	listenRetryDelay     = 5 * time.Second
)

// ConnectionToken is an ephemeral keypair for one pairing attempt. The secret
// doubles as the app private key; its only hard guarantee is uniqueness and
// unpredictability per call.
type ConnectionToken struct {
	Secret    []byte
	PublicKey string
}

func generateConnectionToken() (*ConnectionToken, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	pubKey, err := derivePublicKey(secret)
	if err != nil {
		return nil, err
	}
	return &ConnectionToken{Secret: secret, PublicKey: pubKey}, nil
}

// buildConnectURI produces the pairing URI handed to a remote signer app:
// nostrconnect://<npub>?relay=<enc>&metadata=<enc {"name","url"}>
func buildConnectURI(appPublicKey, relay, appName, appURL string) string {
	encoded := appPublicKey
	if npub, err := EncodeNpub(appPublicKey); err == nil {
		encoded = npub
	}

	metadata := mustJSON(map[string]string{"name": appName, "url": appURL})
	return fmt.Sprintf("nostrconnect://%s?relay=%s&metadata=%s",
		encoded, url.QueryEscape(relay), url.QueryEscape(metadata))
}

// pendingConnection tracks one pairing attempt until the signer answers or
// the entry expires.
type pendingConnection struct {
	AppPrivKey []byte
	AppPubKey  string
	Secret     string
	URI        string
	CreatedAt  time.Time

	mu                 sync.Mutex
	connected          bool
	conversationSecret []byte
	remoteSignerPubKey string
	userPubKey         string
}

// status returns the connection state and, once known, the user's pubkey.
func (p *pendingConnection) status() (connected bool, userPubKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return false, ""
	}
	pub := p.userPubKey
	if pub == "" {
		// Signer acked but get_public_key has not resolved yet; the signer
		// event author is the best identity we have.
		pub = p.remoteSignerPubKey
	}
	return true, pub
}

// pendingConnections is an expiring store of pairing attempts keyed by the
// app public key (unique per attempt).
type pendingConnections struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*pendingConnection
}

func newPendingConnections(ttl time.Duration) *pendingConnections {
	return &pendingConnections{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*pendingConnection),
	}
}

func (s *pendingConnections) Add(pc *pendingConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pc.AppPubKey] = pc
}

func (s *pendingConnections) Get(appPubKey string) *pendingConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc := s.entries[appPubKey]
	if pc == nil {
		return nil
	}
	if s.now().Sub(pc.CreatedAt) > s.ttl {
		delete(s.entries, appPubKey)
		return nil
	}
	return pc
}

// watchedPubKeys returns app pubkeys with live pairing attempts, pruning
// expired ones.
func (s *pendingConnections) watchedPubKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	var keys []string
	for pub, pc := range s.entries {
		if pc.CreatedAt.Before(cutoff) {
			delete(s.entries, pub)
			continue
		}
		keys = append(keys, pub)
	}
	return keys
}

// connectRequest / connectResponse are the NIP-46 JSON-RPC shapes carried
// inside encrypted kind 24133 events.
type connectRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type connectResponse struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// connectListener watches relays for signer responses to pending pairings.
type connectListener struct {
	relays  []string
	pending *pendingConnections
}

func newConnectListener(relays []string, pending *pendingConnections) *connectListener {
	return &connectListener{relays: relays, pending: pending}
}

// Start launches one listener goroutine per relay. Each cycle re-subscribes
// with the current pending pubkey set, so listeners pick up new attempts
// within one cycle.
func (l *connectListener) Start() {
	for _, relay := range l.relays {
		go l.listenLoop(relay)
	}
}

func (l *connectListener) listenLoop(relayURL string) {
	for {
		if len(l.pending.watchedPubKeys()) == 0 {
			time.Sleep(listenRetryDelay)
			continue
		}
		if err := l.listenCycle(relayURL); err != nil {
			slog.Debug("connect listener cycle ended", "relay", relayURL, "error", err)
		}
		time.Sleep(listenRetryDelay)
	}
}

func (l *connectListener) listenCycle(relayURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), listenCycleBudget)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	filter := map[string]interface{}{
		"kinds": []int{kindNostrConnect},
		"#p":    l.pending.watchedPubKeys(),
		"since": time.Now().Unix() - 60,
	}
	if err := conn.WriteJSON([]interface{}{"REQ", "nc-" + generateRequestID(), filter}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(listenCycleBudget))
	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if len(msg) < 3 {
			continue
		}
		if msgType, _ := msg[0].(string); msgType != "EVENT" {
			continue
		}
		evt, ok := parseEventValue(msg[2])
		if !ok || evt.Kind != kindNostrConnect {
			continue
		}
		go l.handleSignerEvent(evt)
	}
}

// handleSignerEvent tries to match an incoming kind 24133 event against a
// pending pairing and complete the handshake.
func (l *connectListener) handleSignerEvent(evt Event) {
	var appPubKey string
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			appPubKey = tag[1]
			break
		}
	}
	pc := l.pending.Get(appPubKey)
	if pc == nil {
		return
	}

	signerPubKey, err := hex.DecodeString(evt.PubKey)
	if err != nil || len(signerPubKey) != 32 {
		return
	}
	convKey, err := conversationKey(pc.AppPrivKey, signerPubKey)
	if err != nil {
		return
	}
	decrypted, err := nip44Decrypt(evt.Content, convKey)
	if err != nil {
		// Not addressed to this pairing, or garbage.
		return
	}

	var resp connectResponse
	if err := json.Unmarshal([]byte(decrypted), &resp); err != nil {
		return
	}
	if resp.Result != "ack" && resp.Result != pc.Secret {
		return
	}

	pc.mu.Lock()
	if pc.connected {
		pc.mu.Unlock()
		return
	}
	pc.connected = true
	pc.conversationSecret = convKey
	pc.remoteSignerPubKey = evt.PubKey
	pc.mu.Unlock()

	slog.Info("signer paired", "app_pubkey", appPubKey[:12], "signer", evt.PubKey[:12])
	go l.resolveUserPubKey(pc)
}

// resolveUserPubKey asks the paired signer which identity it signs for.
// Remote signers may hold keys other than their own transport key.
func (l *connectListener) resolveUserPubKey(pc *pendingConnection) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reqID := generateRequestID()
	payload := mustJSON(connectRequest{ID: reqID, Method: "get_public_key", Params: []string{}})

	pc.mu.Lock()
	convKey := pc.conversationSecret
	signerPubKey := pc.remoteSignerPubKey
	pc.mu.Unlock()

	encrypted, err := nip44Encrypt(payload, convKey)
	if err != nil {
		slog.Warn("connect request encryption failed", "error", err)
		return
	}

	reqEvent, err := newSignedEvent(pc.AppPrivKey, kindNostrConnect,
		[][]string{{"p", signerPubKey}}, encrypted)
	if err != nil {
		slog.Warn("connect request signing failed", "error", err)
		return
	}

	for _, relay := range l.relays {
		result, err := l.requestOverRelay(ctx, relay, pc, reqEvent, reqID, convKey, signerPubKey)
		if err != nil {
			slog.Debug("get_public_key failed", "relay", relay, "error", err)
			continue
		}
		if raw, err := hex.DecodeString(result); err != nil || len(raw) != 32 {
			continue
		}
		pc.mu.Lock()
		pc.userPubKey = result
		pc.mu.Unlock()
		slog.Info("signer identity resolved", "pubkey", result[:12])
		return
	}
}

func (l *connectListener) requestOverRelay(ctx context.Context, relayURL string, pc *pendingConnection, reqEvent *Event, reqID string, convKey []byte, signerPubKey string) (string, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return "", fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	filter := map[string]interface{}{
		"kinds": []int{kindNostrConnect},
		"#p":    []string{pc.AppPubKey},
		"since": time.Now().Unix() - 10,
	}
	if err := conn.WriteJSON([]interface{}{"REQ", "nc-resp-" + reqID[:8], filter}); err != nil {
		return "", fmt.Errorf("subscribe failed: %w", err)
	}
	if err := conn.WriteJSON([]interface{}{"EVENT", reqEvent}); err != nil {
		return "", fmt.Errorf("publish failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return "", err
		}
		if len(msg) < 3 {
			continue
		}
		if msgType, _ := msg[0].(string); msgType != "EVENT" {
			continue
		}
		evt, ok := parseEventValue(msg[2])
		if !ok || evt.PubKey != signerPubKey {
			continue
		}
		decrypted, err := nip44Decrypt(evt.Content, convKey)
		if err != nil {
			continue
		}
		var resp connectResponse
		if err := json.Unmarshal([]byte(decrypted), &resp); err != nil || resp.ID != reqID {
			continue
		}
		if resp.Error != "" {
			return "", fmt.Errorf("signer error: %s", resp.Error)
		}
		return resp.Result, nil
	}
}
