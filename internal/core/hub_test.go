package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

func newTestHub() (*Hub, *clock.Mock) {
	logger := zerolog.Nop()
	mock := clock.NewMock()
	return NewHub(&logger, mock), mock
}

func testUser(id snowflake.ID, username string) *store.User {
	return &store.User{ID: id, Username: username, State: store.UserStateActive}
}

// drainFrames decodes every queued frame for a session.
func drainFrames(t *testing.T, sess *Session) []proto.Envelope {
	t.Helper()

	var frames []proto.Envelope
	for {
		select {
		case frame := <-sess.Out():
			var env proto.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			frames = append(frames, env)
		default:
			return frames
		}
	}
}

func presenceUpdates(t *testing.T, sess *Session) []proto.PresenceUpdateData {
	t.Helper()

	var updates []proto.PresenceUpdateData
	for _, env := range drainFrames(t, sess) {
		if env.T == nil || *env.T != proto.EventPresenceUpdate {
			continue
		}
		var d proto.PresenceUpdateData
		if err := json.Unmarshal(env.D, &d); err != nil {
			t.Fatalf("unmarshal presence payload: %v", err)
		}
		updates = append(updates, d)
	}
	return updates
}

func TestFirstSessionBroadcastsOnline(t *testing.T) {
	hub, _ := newTestHub()

	observer := hub.Register(testUser(1, "watcher"))
	drainFrames(t, observer) // discard the observer's own ONLINE

	hub.Register(testUser(2, "alice"))

	updates := presenceUpdates(t, observer)
	if len(updates) != 1 {
		t.Fatalf("expected 1 presence update, got %d", len(updates))
	}
	if updates[0].ID != "2" || updates[0].NewPresence != proto.PresenceOnline {
		t.Fatalf("unexpected update: %+v", updates[0])
	}
}

func TestSecondSessionDoesNotRebroadcastOnline(t *testing.T) {
	hub, _ := newTestHub()

	observer := hub.Register(testUser(1, "watcher"))
	hub.Register(testUser(2, "alice"))
	hub.Register(testUser(2, "alice"))
	drainFrames(t, observer)

	// Drain again after a fresh register to be sure only one ONLINE came
	// through in total.
	alice := testUser(2, "alice")
	hub.Register(alice)
	if updates := presenceUpdates(t, observer); len(updates) != 0 {
		t.Fatalf("third session rebroadcast presence: %+v", updates)
	}
}

func TestOfflineAfterGraceOnce(t *testing.T) {
	hub, mock := newTestHub()

	observer := hub.Register(testUser(1, "watcher"))

	alice := testUser(2, "alice")
	s1 := hub.Register(alice)
	s2 := hub.Register(alice)
	drainFrames(t, observer)

	// Closing both sessions fires exactly one OFFLINE after the grace
	// delay, not one per session.
	hub.Unregister(s1)
	hub.Unregister(s2)
	mock.Add(PresenceGrace + time.Millisecond)

	updates := presenceUpdates(t, observer)
	if len(updates) != 1 {
		t.Fatalf("expected 1 offline update, got %d: %+v", len(updates), updates)
	}
	if updates[0].NewPresence != proto.PresenceOffline || updates[0].ID != "2" {
		t.Fatalf("unexpected update: %+v", updates[0])
	}
}

func TestReconnectWithinGraceSuppressesOffline(t *testing.T) {
	hub, mock := newTestHub()

	observer := hub.Register(testUser(1, "watcher"))

	alice := testUser(2, "alice")
	s1 := hub.Register(alice)
	drainFrames(t, observer)

	hub.Unregister(s1)
	mock.Add(PresenceGrace / 2)
	hub.Register(alice) // reconnect before the check fires
	mock.Add(PresenceGrace)

	for _, u := range presenceUpdates(t, observer) {
		if u.NewPresence == proto.PresenceOffline {
			t.Fatalf("offline broadcast despite reconnect: %+v", u)
		}
	}
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	hub, _ := newTestHub()

	a := hub.Register(testUser(1, "alice"))
	b := hub.Register(testUser(2, "bob"))
	drainFrames(t, a)
	drainFrames(t, b)

	if err := hub.Broadcast(proto.EventTypingStart, proto.TypingStartData{Username: "alice"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for _, sess := range []*Session{a, b} {
		frames := drainFrames(t, sess)
		if len(frames) != 1 {
			t.Fatalf("expected 1 frame, got %d", len(frames))
		}
		if frames[0].T == nil || *frames[0].T != proto.EventTypingStart {
			t.Fatalf("unexpected frame: %+v", frames[0])
		}
	}
}

func TestIsOnlineAndOnlineUserIDs(t *testing.T) {
	hub, _ := newTestHub()

	s := hub.Register(testUser(5, "alice"))
	hub.Register(testUser(3, "bob"))

	if !hub.IsOnline(5) || !hub.IsOnline(3) {
		t.Fatal("expected both users online")
	}
	if hub.IsOnline(9) {
		t.Fatal("unexpected online user")
	}

	ids := hub.OnlineUserIDs()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 5 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	hub.Unregister(s)
	if hub.IsOnline(5) {
		t.Fatal("unregistered user still online")
	}
}

func TestDisconnectUserForcesAllSessions(t *testing.T) {
	hub, _ := newTestHub()

	alice := testUser(2, "alice")
	s1 := hub.Register(alice)
	s2 := hub.Register(alice)
	other := hub.Register(testUser(3, "bob"))

	hub.DisconnectUser(2, proto.CloseForced, "suspended")

	for _, sess := range []*Session{s1, s2} {
		select {
		case <-sess.Done():
			if code, _ := sess.CloseStatus(); code != proto.CloseForced {
				t.Fatalf("close code = %d, want %d", code, proto.CloseForced)
			}
		default:
			t.Fatal("session not closed")
		}
	}

	select {
	case <-other.Done():
		t.Fatal("unrelated session closed")
	default:
	}
}

func TestSlowConsumerFramesDropped(t *testing.T) {
	hub, _ := newTestHub()

	sess := hub.Register(testUser(1, "slow"))

	// Fill the buffer past capacity; Broadcast must not block.
	for i := 0; i < sessionBuffer+10; i++ {
		if err := hub.Broadcast(proto.EventTypingStart, proto.TypingStartData{Username: "x"}); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
	}

	if frames := drainFrames(t, sess); len(frames) > sessionBuffer {
		t.Fatalf("buffer exceeded: %d frames", len(frames))
	}
}
