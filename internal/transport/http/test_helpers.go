package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/auth"
	"github.com/mikeiscool1/vitchat.xyz/internal/core"
	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
	"github.com/mikeiscool1/vitchat.xyz/internal/ratelimit"
	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
	"github.com/mikeiscool1/vitchat.xyz/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	store store.Store
	auth  *auth.Service
	hub   *core.Hub
	ids   *snowflake.Generator
}

// newTestEnv spins up the full router over an in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	ids := snowflake.NewGenerator(1)
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}, ids)

	clk := clock.New()
	hub := core.NewHub(&logger, clk)
	limiter := ratelimit.NewLimiter(clk)

	router := NewRouter(Deps{
		Store:   st,
		Auth:    authService,
		Hub:     hub,
		Limiter: limiter,
		IDs:     ids,
		Log:     &logger,
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub, ids: ids}
}

// createUser registers an approved account and returns it with a token.
func (e *testEnv) createUser(t *testing.T, username string, admin bool) (*store.User, string) {
	t.Helper()

	ctx := context.Background()
	user, err := e.auth.Register(ctx, username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if err := e.store.SetUserState(ctx, user.ID, store.UserStateActive, nil, nil); err != nil {
		t.Fatalf("activate %s: %v", username, err)
	}
	user.State = store.UserStateActive
	if admin {
		// No API path promotes admins; flip the row directly.
		if _, err := e.store.(*sqlite.SQLiteStore).DB().ExecContext(ctx,
			"UPDATE users SET admin = 1 WHERE id = ?", int64(user.ID)); err != nil {
			t.Fatalf("promote %s: %v", username, err)
		}
		user.Admin = true
	}

	token, err := e.auth.IssueToken(user)
	if err != nil {
		t.Fatalf("issue token for %s: %v", username, err)
	}
	return user, token
}

// request performs an HTTP request with an optional token and JSON body.
func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*stdhttp.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := stdhttp.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, data
}

// dialWS opens a gateway connection.
func (e *testEnv) dialWS(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

// identifyWS sends Identify and waits for the Ready dispatch, skipping any
// presence frames queued ahead of it.
func identifyWS(t *testing.T, ctx context.Context, conn *websocket.Conn, token string) proto.ReadyData {
	t.Helper()

	frame, err := proto.Identify(token)
	if err != nil {
		t.Fatalf("build identify: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write identify: %v", err)
	}

	for {
		env := readEnvelope(t, ctx, conn)
		if env.Op != proto.OpDispatch || env.T == nil || *env.T != proto.EventReady {
			continue
		}
		var ready proto.ReadyData
		if err := json.Unmarshal(env.D, &ready); err != nil {
			t.Fatalf("unmarshal ready: %v", err)
		}
		return ready
	}
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Envelope {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return env
}

// awaitDispatch reads frames until one matches the wanted event type.
func awaitDispatch(t *testing.T, ctx context.Context, conn *websocket.Conn, want proto.EventType) json.RawMessage {
	t.Helper()

	for {
		env := readEnvelope(t, ctx, conn)
		if env.Op == proto.OpDispatch && env.T != nil && *env.T == want {
			return env.D
		}
	}
}

// awaitClose reads until the server closes the connection and returns the
// close status code.
func awaitClose(t *testing.T, ctx context.Context, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 {
				t.Fatalf("connection failed without close status: %v", err)
			}
			return status
		}
	}
}
