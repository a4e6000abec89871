// Package proto defines the gateway wire protocol: the {op, d, t} envelope,
// opcodes, dispatch event types and close codes shared by server and client.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion identifies the wire format.
const ProtocolVersion = 1

// HeartbeatInterval is how often an identified client sends a Heartbeat.
const HeartbeatInterval = 20000 * time.Millisecond

// Opcode discriminates envelope kinds.
type Opcode int

const (
	// OpDispatch carries a server-to-client event; the envelope's t field
	// names the event type.
	OpDispatch Opcode = 0
	// OpHeartbeat is sent by the client to keep the connection alive.
	OpHeartbeat Opcode = 1
	// OpHeartbeatACK answers a Heartbeat.
	OpHeartbeatACK Opcode = 3
	// OpIdentify is the first message on a new connection, exchanging a
	// credential for an authenticated session.
	OpIdentify Opcode = 4
)

// EventType tags a Dispatch payload.
type EventType int

const (
	EventReady          EventType = 0
	EventMessageCreate  EventType = 1
	EventMessageEdit    EventType = 2
	EventMessageDelete  EventType = 3
	EventPresenceUpdate EventType = 4
	EventTypingStart    EventType = 5
	EventUserUpdate     EventType = 6
)

// CloseCode is a WebSocket close status in the gateway's private range.
type CloseCode int

const (
	CloseUnknownError         CloseCode = 4000
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseForbidden            CloseCode = 4005
	CloseAlreadyAuthenticated CloseCode = 4006
	CloseRateLimited          CloseCode = 4007
	// CloseForced tells the client not to reconnect: its credential was
	// rotated or the account was suspended. Re-authentication is required.
	CloseForced CloseCode = 4008
)

// NoReconnect reports whether a close code forbids an automatic reconnect.
func (c CloseCode) NoReconnect() bool {
	switch c {
	case CloseForced, CloseForbidden, CloseAuthenticationFailed:
		return true
	}
	return false
}

// Envelope is the bidirectional wire frame. T is a pointer because
// non-dispatch frames carry an explicit null and EventReady is zero.
type Envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	T  *EventType      `json:"t"`
}

// Dispatch builds a serialized Dispatch envelope for the given event type.
func Dispatch(t EventType, d any) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch payload: %w", err)
	}
	data, err := json.Marshal(Envelope{Op: OpDispatch, D: payload, T: &t})
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch envelope: %w", err)
	}
	return data, nil
}

// HeartbeatACK builds the serialized answer to a Heartbeat.
func HeartbeatACK() []byte {
	data, _ := json.Marshal(Envelope{Op: OpHeartbeatACK})
	return data
}

// Identify builds the serialized client handshake frame.
func Identify(authorization string) ([]byte, error) {
	payload, err := json.Marshal(IdentifyData{Authorization: &authorization})
	if err != nil {
		return nil, fmt.Errorf("marshal identify payload: %w", err)
	}
	data, err := json.Marshal(Envelope{Op: OpIdentify, D: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal identify envelope: %w", err)
	}
	return data, nil
}

// Heartbeat builds the serialized client keepalive frame.
func Heartbeat() []byte {
	data, _ := json.Marshal(Envelope{Op: OpHeartbeat})
	return data
}

// IdentifyData is the Identify payload. Authorization is a pointer so a
// missing credential is distinguishable from an empty string; both close
// the connection with CloseDecodeError.
type IdentifyData struct {
	Authorization *string `json:"authorization"`
}

// Author identifies the writer of a message in dispatch payloads. IDs
// travel as decimal strings.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// ReadyData answers a successful Identify with the caller's own profile.
type ReadyData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// MessageCreateData announces a new message.
type MessageCreateData struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  Author `json:"author"`
}

// MessageEditData announces a content change.
type MessageEditData struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// MessageDeleteData announces a removal.
type MessageDeleteData struct {
	ID string `json:"id"`
}

// Presence values carried by PresenceUpdateData.
const (
	PresenceOnline  = "ONLINE"
	PresenceOffline = "OFFLINE"
)

// PresenceUpdateData announces an online/offline transition. Only
// transitions are sent, never snapshots.
type PresenceUpdateData struct {
	ID          string `json:"id"`
	NewPresence string `json:"new_presence"`
}

// TypingStartData announces that a user began typing.
type TypingStartData struct {
	Username string `json:"username"`
}

// UserUpdateData announces a profile change, or a newly visible account
// when Created is true (a waitlisted user was approved).
type UserUpdateData struct {
	Created  bool   `json:"created"`
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}
