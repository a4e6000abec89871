package http

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
)

func TestGatewayIdentifyAndReady(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.createUser(t, "alice", false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ready := identifyWS(t, ctx, conn, token)
	if ready.ID != user.ID.String() || ready.Username != "alice" {
		t.Fatalf("unexpected ready: %+v", ready)
	}
	if !env.hub.IsOnline(user.ID) {
		t.Fatal("user not online after identify")
	}
}

func TestGatewayHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUser(t, "alice", false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	identifyWS(t, ctx, conn, token)

	if err := conn.Write(ctx, websocket.MessageText, proto.Heartbeat()); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	for {
		frame := readEnvelope(t, ctx, conn)
		if frame.Op == proto.OpHeartbeatACK {
			return
		}
	}
}

func TestGatewayHeartbeatBeforeIdentify(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	if err := conn.Write(ctx, websocket.MessageText, proto.Heartbeat()); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	if status := awaitClose(t, ctx, conn); status != websocket.StatusCode(proto.CloseUnknownOpcode) {
		t.Fatalf("close status = %d, want %d", status, proto.CloseUnknownOpcode)
	}
}

func TestGatewayBadToken(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	frame, err := proto.Identify("not-a-token")
	if err != nil {
		t.Fatalf("build identify: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write identify: %v", err)
	}

	if status := awaitClose(t, ctx, conn); status != websocket.StatusCode(proto.CloseAuthenticationFailed) {
		t.Fatalf("close status = %d, want %d", status, proto.CloseAuthenticationFailed)
	}
}

func TestGatewayMalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if status := awaitClose(t, ctx, conn); status != websocket.StatusCode(proto.CloseDecodeError) {
		t.Fatalf("close status = %d, want %d", status, proto.CloseDecodeError)
	}
}

func TestGatewayMissingAuthorization(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	frame, err := json.Marshal(proto.Envelope{Op: proto.OpIdentify, D: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	if status := awaitClose(t, ctx, conn); status != websocket.StatusCode(proto.CloseDecodeError) {
		t.Fatalf("close status = %d, want %d", status, proto.CloseDecodeError)
	}
}

func TestGatewayDoubleIdentify(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUser(t, "alice", false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	identifyWS(t, ctx, conn, token)

	frame, err := proto.Identify(token)
	if err != nil {
		t.Fatalf("build identify: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write identify: %v", err)
	}

	if status := awaitClose(t, ctx, conn); status != websocket.StatusCode(proto.CloseAlreadyAuthenticated) {
		t.Fatalf("close status = %d, want %d", status, proto.CloseAlreadyAuthenticated)
	}
}

func TestGatewayWaitlistedForbidden(t *testing.T) {
	env := newTestEnv(t)

	pending, err := env.auth.Register(t.Context(), "pending", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := env.auth.IssueToken(pending)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	frame, err := proto.Identify(token)
	if err != nil {
		t.Fatalf("build identify: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write identify: %v", err)
	}

	if status := awaitClose(t, ctx, conn); status != websocket.StatusCode(proto.CloseForbidden) {
		t.Fatalf("close status = %d, want %d", status, proto.CloseForbidden)
	}
}

func TestGatewayMessageBroadcast(t *testing.T) {
	env := newTestEnv(t)
	_, listenerToken := env.createUser(t, "alice", false)
	sender, _ := env.createUser(t, "bob", false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	identifyWS(t, ctx, conn, listenerToken)

	msgID := newStoreMessage(t, env, sender, "hello everyone")

	payload := awaitDispatch(t, ctx, conn, proto.EventMessageCreate)
	var created proto.MessageCreateData
	if err := json.Unmarshal(payload, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID != msgID || created.Content != "hello everyone" || created.Author.Username != "bob" {
		t.Fatalf("unexpected dispatch: %+v", created)
	}
}

func TestGatewayPresenceBroadcast(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.createUser(t, "alice", false)
	bob, bobToken := env.createUser(t, "bob", false)

	// Generous deadline: the OFFLINE transition waits out the real
	// presence grace delay.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	listener := env.dialWS(t, ctx)
	defer listener.Close(websocket.StatusNormalClosure, "done")
	identifyWS(t, ctx, listener, aliceToken)

	other := env.dialWS(t, ctx)
	identifyWS(t, ctx, other, bobToken)

	payload := awaitDispatch(t, ctx, listener, proto.EventPresenceUpdate)
	var update proto.PresenceUpdateData
	if err := json.Unmarshal(payload, &update); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if update.ID != bob.ID.String() || update.NewPresence != proto.PresenceOnline {
		t.Fatalf("unexpected presence update: %+v", update)
	}

	other.Close(websocket.StatusNormalClosure, "done")
	// The OFFLINE transition only fires after the grace delay passes
	// with no reconnect.
	payload = awaitDispatch(t, ctx, listener, proto.EventPresenceUpdate)
	if err := json.Unmarshal(payload, &update); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if update.ID != bob.ID.String() || update.NewPresence != proto.PresenceOffline {
		t.Fatalf("unexpected presence update: %+v", update)
	}
}

func TestGatewayForcedDisconnect(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.createUser(t, "alice", false)
	_, adminToken := env.createUser(t, "root", true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := env.dialWS(t, ctx)
	identifyWS(t, ctx, conn, token)

	resp, body := env.request(t, "PATCH", "/users-admin/"+user.ID.String(), adminToken, map[string]string{
		"state":            "suspended",
		"suspended_reason": "spam",
	})
	if resp.StatusCode != 204 {
		t.Fatalf("suspend status = %d, body %s", resp.StatusCode, body)
	}

	if status := awaitClose(t, ctx, conn); status != websocket.StatusCode(proto.CloseForced) {
		t.Fatalf("close status = %d, want %d", status, proto.CloseForced)
	}
}
