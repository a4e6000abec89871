package sqlite

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createUser(t *testing.T, st *SQLiteStore, gen *snowflake.Generator, username string) *store.User {
	t.Helper()

	user := &store.User{
		ID:           gen.Generate(),
		Username:     username,
		PasswordHash: "hash",
		State:        store.UserStateActive,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return user
}

func TestUserRoundTrip(t *testing.T) {
	st := newTestStore(t)
	gen := snowflake.NewGenerator(1)
	ctx := context.Background()

	created := createUser(t, st, gen, "Alice")

	got, err := st.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Username != "Alice" || got.State != store.UserStateActive {
		t.Fatalf("unexpected user: %+v", got)
	}

	// Lookup is case-insensitive.
	got, err = st.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("id mismatch: %d != %d", got.ID, created.ID)
	}
}

func TestGetUserNotFound(t *testing.T) {
	st := newTestStore(t)

	if _, err := st.GetUserByID(context.Background(), 12345); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUsernameUniqueCaseInsensitive(t *testing.T) {
	st := newTestStore(t)
	gen := snowflake.NewGenerator(1)
	ctx := context.Background()

	createUser(t, st, gen, "Bob")

	dup := &store.User{ID: gen.Generate(), Username: "bob", PasswordHash: "x"}
	if err := st.CreateUser(ctx, dup); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestListUsersExcludesWaitlist(t *testing.T) {
	st := newTestStore(t)
	gen := snowflake.NewGenerator(1)
	ctx := context.Background()

	createUser(t, st, gen, "zoe")
	createUser(t, st, gen, "adam")

	pending := &store.User{ID: gen.Generate(), Username: "newbie", PasswordHash: "x", State: store.UserStateWaitlist}
	if err := st.CreateUser(ctx, pending); err != nil {
		t.Fatalf("create waitlisted user: %v", err)
	}

	users, err := st.ListUsers(ctx, false)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	// Ordered by username.
	if users[0].Username != "adam" || users[1].Username != "zoe" {
		t.Fatalf("unexpected order: %s, %s", users[0].Username, users[1].Username)
	}

	all, err := st.ListUsers(ctx, true)
	if err != nil {
		t.Fatalf("list all users: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 users, got %d", len(all))
	}
}

func TestSetUserState(t *testing.T) {
	st := newTestStore(t)
	gen := snowflake.NewGenerator(1)
	ctx := context.Background()

	user := createUser(t, st, gen, "carol")

	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	reason := "spamming"
	if err := st.SetUserState(ctx, user.ID, store.UserStateSuspended, &until, &reason); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	got, err := st.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != store.UserStateSuspended {
		t.Fatalf("state = %s", got.State)
	}
	if got.SuspendedUntil == nil || !got.SuspendedUntil.Equal(until) {
		t.Fatalf("suspended_until = %v, want %v", got.SuspendedUntil, until)
	}
	if got.SuspendedReason == nil || *got.SuspendedReason != reason {
		t.Fatalf("suspended_reason = %v", got.SuspendedReason)
	}

	// Reactivation clears the suspension columns.
	if err := st.SetUserState(ctx, user.ID, store.UserStateActive, nil, nil); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	got, _ = st.GetUserByID(ctx, user.ID)
	if got.State != store.UserStateActive || got.SuspendedUntil != nil || got.SuspendedReason != nil {
		t.Fatalf("suspension not cleared: %+v", got)
	}
}

func TestMessageCRUD(t *testing.T) {
	st := newTestStore(t)
	gen := snowflake.NewGenerator(1)
	ctx := context.Background()

	author := createUser(t, st, gen, "dave")

	msg := &store.Message{ID: gen.Generate(), AuthorID: author.ID, Content: "hello"}
	if err := st.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "hello" || got.AuthorID != author.ID {
		t.Fatalf("unexpected message: %+v", got)
	}

	if err := st.UpdateMessage(ctx, msg.ID, "edited"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = st.GetMessage(ctx, msg.ID)
	if got.Content != "edited" {
		t.Fatalf("content = %q", got.Content)
	}

	if err := st.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListMessagesCursorPagination(t *testing.T) {
	st := newTestStore(t)
	gen := snowflake.NewGenerator(1)
	ctx := context.Background()

	author := createUser(t, st, gen, "erin")

	ids := make([]snowflake.ID, 10)
	for i := range ids {
		ids[i] = gen.Generate()
		msg := &store.Message{ID: ids[i], AuthorID: author.ID, Content: "m"}
		if err := st.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	noBound := snowflake.ID(math.MaxInt64)

	// Limit keeps the newest messages, returned ascending.
	msgs, err := st.ListMessages(ctx, 0, noBound, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range ids[7:] {
		if msgs[i].ID != want {
			t.Fatalf("message %d: id %d, want %d", i, msgs[i].ID, want)
		}
	}

	// Exclusive after cursor.
	msgs, err = st.ListMessages(ctx, ids[7], noBound, 100)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != ids[8] || msgs[1].ID != ids[9] {
		t.Fatalf("unexpected page after cursor: %+v", msgs)
	}

	// Exclusive before cursor.
	msgs, err = st.ListMessages(ctx, 0, ids[2], 100)
	if err != nil {
		t.Fatalf("list before: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != ids[0] || msgs[1].ID != ids[1] {
		t.Fatalf("unexpected page before cursor: %+v", msgs)
	}
}
