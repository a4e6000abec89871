// Package core owns the live session registry, presence derivation and
// event fan-out of the gateway.
package core

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

// PresenceGrace is how long a user's last session may be gone before an
// OFFLINE transition is broadcast. Absorbs rapid reconnects such as page
// navigation.
const PresenceGrace = 5000 * time.Millisecond

// Hub is the connection registry and broadcast dispatcher. All session
// membership mutations are serialized behind its mutex; presence
// transitions derive from membership changes. State is per-process: a
// multi-instance deployment would need an external coordinator.
type Hub struct {
	log   *zerolog.Logger
	clock clock.Clock
	grace time.Duration

	mu       sync.Mutex
	sessions map[int64]*Session
	lastID   int64
}

// NewHub creates a hub. A nil clock means wall time.
func NewHub(logger *zerolog.Logger, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		log:      logger,
		clock:    clk,
		grace:    PresenceGrace,
		sessions: make(map[int64]*Session),
	}
}

// Register adds an identified session for the user and returns it. When
// this is the user's first live session, a PresenceUpdate ONLINE is
// broadcast to everyone, the new session included.
func (h *Hub) Register(user *store.User) *Session {
	online, err := proto.Dispatch(proto.EventPresenceUpdate, proto.PresenceUpdateData{
		ID:          user.ID.String(),
		NewPresence: proto.PresenceOnline,
	})
	if err != nil {
		// Payload is plain data; marshal cannot realistically fail.
		h.log.Error().Err(err).Msg("marshal presence update")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	sess := newSession(h.lastID, user)

	wasOnline := h.userOnlineLocked(user.ID)
	h.sessions[sess.ID] = sess

	if !wasOnline && online != nil {
		h.broadcastLocked(online)
	}

	h.log.Debug().
		Int64("session_id", sess.ID).
		Str("user_id", user.ID.String()).
		Msg("session registered")

	return sess
}

// Unregister removes a session. If it was the user's last one, an OFFLINE
// check is scheduled after the grace delay; the check re-validates
// membership at fire time, so no cancellation is needed when the user
// reconnects in between.
func (h *Hub) Unregister(sess *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[sess.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, sess.ID)
	stillOnline := h.userOnlineLocked(sess.User.ID)
	h.mu.Unlock()

	h.log.Debug().
		Int64("session_id", sess.ID).
		Str("user_id", sess.User.ID.String()).
		Msg("session unregistered")

	if stillOnline {
		return
	}

	userID := sess.User.ID
	h.clock.AfterFunc(h.grace, func() {
		h.mu.Lock()
		back := h.userOnlineLocked(userID)
		h.mu.Unlock()
		if back {
			return
		}
		if err := h.Broadcast(proto.EventPresenceUpdate, proto.PresenceUpdateData{
			ID:          userID.String(),
			NewPresence: proto.PresenceOffline,
		}); err != nil {
			h.log.Error().Err(err).Msg("broadcast presence offline")
		}
	})
}

// Broadcast serializes the event once and enqueues it to every identified
// session. Fire and forget: no acknowledgment, no retry, slow consumers
// are dropped.
func (h *Hub) Broadcast(t proto.EventType, d any) error {
	frame, err := proto.Dispatch(t, d)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(frame)
	return nil
}

func (h *Hub) broadcastLocked(frame []byte) {
	for _, sess := range h.sessions {
		if !sess.Enqueue(frame) {
			h.log.Warn().
				Int64("session_id", sess.ID).
				Msg("dropped frame for slow session")
		}
	}
}

// IsOnline reports whether the user has at least one identified session.
func (h *Hub) IsOnline(userID snowflake.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userOnlineLocked(userID)
}

// OnlineUserIDs returns the distinct users with a live session, sorted.
func (h *Hub) OnlineUserIDs() []snowflake.ID {
	h.mu.Lock()
	seen := make(map[snowflake.ID]struct{})
	for _, sess := range h.sessions {
		seen[sess.User.ID] = struct{}{}
	}
	h.mu.Unlock()

	ids := make([]snowflake.ID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// DisconnectUser force-closes every session of a user. Used after
// credential rotation or an administrative suspension; the close code
// tells the client not to reconnect automatically.
func (h *Hub) DisconnectUser(userID snowflake.ID, code proto.CloseCode, reason string) {
	h.mu.Lock()
	var targets []*Session
	for _, sess := range h.sessions {
		if sess.User.ID == userID {
			targets = append(targets, sess)
		}
	}
	h.mu.Unlock()

	for _, sess := range targets {
		sess.Close(code, reason)
	}
}

func (h *Hub) userOnlineLocked(userID snowflake.ID) bool {
	for _, sess := range h.sessions {
		if sess.User.ID == userID {
			return true
		}
	}
	return false
}
