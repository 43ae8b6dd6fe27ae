// Package main is a WebSocket smoke test against a running backend.
//
// It connects two identities, makes them match, exchanges a chat message
// (sent twice with the same temp id), and rings then declines a call.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"matchgogo/backend/internal/auth"
	"matchgogo/backend/internal/chat"
	"matchgogo/backend/internal/models"
	"matchgogo/backend/internal/reconcile"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name  string
	conn  *websocket.Conn
	inbox chan models.Envelope
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		secret  = flag.String("secret", os.Getenv("AUTH_SECRET"), "token signing secret")
		issuer  = flag.String("issuer", "matchgogo-service", "token issuer")
		text    = flag.String("text", "hello 👋", "message text to send")
		timeout = flag.Duration("timeout", 5*time.Second, "per-step timeout")
	)
	flag.Parse()

	if *secret == "" {
		fatalf("-secret or AUTH_SECRET is required")
	}
	authn := auth.NewAuthenticator(*secret, *issuer, time.Hour)
	root := context.Background()

	run := uuid.NewString()[:8]
	alice := mustConnect(root, authn, *wsURL, "smoke-a-"+run, *timeout)
	defer alice.conn.Close(websocket.StatusNormalClosure, "")
	bob := mustConnect(root, authn, *wsURL, "smoke-b-"+run, *timeout)
	defer bob.conn.Close(websocket.StatusNormalClosure, "")

	// Mutual interest.
	alice.send(root, models.RequestInterest, map[string]string{"to": bob.name}, *timeout)
	alice.expect(root, models.EventInterestAck, *timeout)
	bob.send(root, models.RequestInterest, map[string]string{"to": alice.name}, *timeout)
	bob.expect(root, models.EventInterestAck, *timeout)
	alice.expect(root, models.EventMatchCreated, *timeout)
	bob.expect(root, models.EventMatchCreated, *timeout)

	// Chat, sent twice with one temp id.
	optimistic := models.ChatMessage{
		TempID:      uuid.NewString(),
		SenderID:    alice.name,
		RecipientID: bob.name,
		Type:        models.MessageText,
		Content:     *text,
		SentAt:      time.Now().UTC(),
	}
	out := chat.Outgoing{
		TempID:  optimistic.TempID,
		To:      bob.name,
		Type:    optimistic.Type,
		Content: optimistic.Content,
		SentAt:  optimistic.SentAt,
	}
	timeline := []models.ChatMessage{optimistic}
	for range 2 {
		alice.send(root, models.RequestChatMessage, out, *timeout)
		timeline = append(timeline, decodeChat(alice.expect(root, models.EventChatMessage, *timeout)))
		received := decodeChat(bob.expect(root, models.EventChatMessage, *timeout))
		if received.Content != *text {
			fatalf("bob got %q, want %q", received.Content, *text)
		}
	}
	if timeline[1].ID == "" || timeline[1].ID != timeline[2].ID {
		fatalf("retry was not idempotent: %q vs %q", timeline[1].ID, timeline[2].ID)
	}
	if merged := reconcile.Reconcile(timeline); len(merged) != 1 {
		fatalf("reconcile: got %d records, want 1", len(merged))
	}

	// Ring, then decline.
	alice.send(root, models.RequestCallInitiate, map[string]string{"receiverId": bob.name, "callType": "audio"}, *timeout)
	alice.expect(root, models.EventCallInitiated, *timeout)
	var incoming models.CallEventPayload
	mustDecode(bob.expect(root, models.EventCallIncoming, *timeout), &incoming)
	bob.send(root, models.RequestCallDecline, map[string]string{"sessionId": incoming.SessionID}, *timeout)
	alice.expect(root, models.EventCallDeclined, *timeout)
	bob.expect(root, models.EventCallDeclined, *timeout)

	fmt.Printf("OK: %s <-> %s message=%s call=%s\n", alice.name, bob.name, timeline[1].ID, incoming.SessionID)
}

func mustConnect(parent context.Context, authn *auth.Authenticator, wsURL, identity string, timeout time.Duration) *smokeClient {
	token, err := authn.Issue(identity)
	if err != nil {
		fatalf("issue token: %v", err)
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", identity, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{name: identity, conn: conn, inbox: make(chan models.Envelope, 64)}
	go c.readLoop()
	return c
}

func (c *smokeClient) readLoop() {
	defer close(c.inbox)
	for {
		var env models.Envelope
		if err := wsjson.Read(context.Background(), c.conn, &env); err != nil {
			return
		}
		c.inbox <- env
	}
}

func (c *smokeClient) send(parent context.Context, reqType string, payload any, timeout time.Duration) {
	env, err := models.NewEnvelope(reqType, payload)
	if err != nil {
		fatalf("encode %s: %v", reqType, err)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		fatalf("%s: write %s: %v", c.name, reqType, err)
	}
}

// expect skips envelopes until one of type want arrives. An error envelope
// fails the run.
func (c *smokeClient) expect(parent context.Context, want string, timeout time.Duration) models.Envelope {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	for {
		select {
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("%s: connection closed waiting for %s", c.name, want)
			}
			if env.Type == want {
				return env
			}
			if env.Type == models.EventError {
				fatalf("%s: server error waiting for %s: %s", c.name, want, env.Payload)
			}
		case <-ctx.Done():
			fatalf("%s: timed out waiting for %s", c.name, want)
		}
	}
}

func decodeChat(env models.Envelope) models.ChatMessage {
	var p models.ChatMessagePayload
	mustDecode(env, &p)
	return p.Message
}

func mustDecode(env models.Envelope, v any) {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		fatalf("decode %s: %v", env.Type, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
