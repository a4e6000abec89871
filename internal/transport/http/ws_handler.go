package http

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/auth"
	"github.com/mikeiscool1/vitchat.xyz/internal/core"
	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
)

// WSHandler upgrades connections and runs the gateway state machine:
// exactly one Identify, then Heartbeats and server-pushed Dispatches.
type WSHandler struct {
	hub  *core.Hub
	auth *auth.Service
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, auth: authService, log: logger}
}

// Handle upgrades the request and serves the connection.
// GET /ws
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	h.serve(c.Request.Context(), conn)
}

func (h *WSHandler) serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sess *core.Session
	defer func() {
		if sess != nil {
			h.hub.Unregister(sess)
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.close(conn, sess, proto.CloseDecodeError, "malformed payload")
			return
		}

		switch env.Op {
		case proto.OpIdentify:
			if sess != nil {
				h.close(conn, sess, proto.CloseAlreadyAuthenticated, "already identified")
				return
			}
			next, code, reason := h.identify(ctx, env.D)
			if next == nil {
				h.close(conn, nil, code, reason)
				return
			}
			sess = next
			go h.writePump(ctx, conn, sess)

		case proto.OpHeartbeat:
			// A Heartbeat on an unidentified connection is as unknown
			// as any other opcode.
			if sess == nil {
				h.close(conn, nil, proto.CloseUnknownOpcode, "identify first")
				return
			}
			sess.Enqueue(proto.HeartbeatACK())

		default:
			h.close(conn, sess, proto.CloseUnknownOpcode, "unknown opcode")
			return
		}
	}
}

// identify runs the handshake: decode the credential, resolve it to a
// user, gate on account status, then register with the hub and queue the
// Ready dispatch. On failure it returns a nil session and a close code.
func (h *WSHandler) identify(ctx context.Context, payload json.RawMessage) (*core.Session, proto.CloseCode, string) {
	var d proto.IdentifyData
	if err := json.Unmarshal(payload, &d); err != nil || d.Authorization == nil {
		return nil, proto.CloseDecodeError, "malformed identify payload"
	}

	user, err := h.auth.Authenticate(ctx, *d.Authorization)
	if err != nil {
		return nil, proto.CloseAuthenticationFailed, "authentication failed"
	}

	status, err := h.auth.UserStatus(ctx, user)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to check user status")
		return nil, proto.CloseUnknownError, "internal error"
	}
	if !status.Allowed {
		return nil, proto.CloseForbidden, status.Reason
	}

	sess := h.hub.Register(user)

	ready, err := proto.Dispatch(proto.EventReady, proto.ReadyData{
		ID:       user.ID.String(),
		Username: user.Username,
		Admin:    user.Admin,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build ready dispatch")
		h.hub.Unregister(sess)
		return nil, proto.CloseUnknownError, "internal error"
	}
	sess.Enqueue(ready)

	h.log.Info().Str("username", user.Username).Msg("ws session identified")
	return sess, 0, ""
}

// writePump drains the session's outbound queue onto the wire and closes
// the connection when the session is closed server-side.
func (h *WSHandler) writePump(ctx context.Context, conn *websocket.Conn, sess *core.Session) {
	for {
		select {
		case frame := <-sess.Out():
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		case <-sess.Done():
			code, reason := sess.CloseStatus()
			conn.Close(websocket.StatusCode(code), reason)
			return
		case <-ctx.Done():
			return
		}
	}
}

// close terminates a connection with a gateway close code. The session,
// if any, is closed too so the write pump stops.
func (h *WSHandler) close(conn *websocket.Conn, sess *core.Session, code proto.CloseCode, reason string) {
	h.log.Debug().Int("code", int(code)).Str("reason", reason).Msg("ws close")
	if sess != nil {
		sess.Close(code, reason)
	}
	conn.Close(websocket.StatusCode(code), reason)
}
