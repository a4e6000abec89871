package typing

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestLabelSingleUser(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock, "me")

	agg.Observe("alice")
	snap := agg.Tick()

	if !snap.Active {
		t.Fatal("expected active indicator")
	}
	if snap.Label != "alice is typing" {
		t.Fatalf("label = %q", snap.Label)
	}
}

func TestLabelsSortedAndJoined(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock, "me")

	cases := []struct {
		users []string
		want  string
	}{
		{[]string{"bob", "alice"}, "alice and bob are typing"},
		{[]string{"carol", "alice", "bob"}, "alice, bob and carol are typing"},
		{[]string{"d", "c", "b", "a"}, "4 people are typing"},
	}

	for _, tc := range cases {
		agg = NewAggregator(mock, "me")
		for _, u := range tc.users {
			agg.Observe(u)
		}
		if snap := agg.Tick(); snap.Label != tc.want {
			t.Errorf("label for %v = %q, want %q", tc.users, snap.Label, tc.want)
		}
	}
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock, "me")

	agg.Observe("alice")
	mock.Add(TTL + time.Millisecond)

	if snap := agg.Tick(); snap.Active {
		t.Fatalf("expected inactive indicator, got %+v", snap)
	}
}

func TestObserveRefreshesEntry(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock, "me")

	agg.Observe("alice")
	mock.Add(2 * time.Second)
	agg.Observe("alice")
	mock.Add(2 * time.Second)

	// Without the refresh the entry would be 4s old and gone.
	if snap := agg.Tick(); !snap.Active {
		t.Fatal("refreshed entry expired too early")
	}
}

func TestSelfIgnored(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock, "me")

	agg.Observe("me")
	if snap := agg.Tick(); snap.Active {
		t.Fatal("own typing events must be ignored")
	}
}

func TestClearRemovesEntry(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock, "me")

	agg.Observe("alice")
	agg.Clear("alice")
	if snap := agg.Tick(); snap.Active {
		t.Fatal("cleared entry still active")
	}
}

func TestDotsCycle(t *testing.T) {
	mock := clock.NewMock()
	agg := NewAggregator(mock, "me")

	var got []string
	for i := 0; i < 5; i++ {
		agg.Observe("alice")
		got = append(got, agg.Tick().Dots)
	}

	want := []string{".", "..", "...", "", "."}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dots sequence = %v, want %v", got, want)
		}
	}
}

func TestThrottle(t *testing.T) {
	mock := clock.NewMock()
	throttle := NewThrottle(mock)

	if !throttle.ShouldSend() {
		t.Fatal("first send should pass")
	}
	if throttle.ShouldSend() {
		t.Fatal("immediate second send should be throttled")
	}

	mock.Add(SendThrottle)
	if !throttle.ShouldSend() {
		t.Fatal("send after throttle window should pass")
	}
}
