package snowflake

import (
	"testing"
	"time"
)

func TestGenerateStrictlyIncreasing(t *testing.T) {
	gen := NewGenerator(1)

	prev := gen.Generate()
	for i := 0; i < 10000; i++ {
		id := gen.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d at iteration %d", id, prev, i)
		}
		prev = id
	}
}

func TestGenerateTimestampCloseToNow(t *testing.T) {
	gen := NewGenerator(0)

	before := time.Now()
	id := gen.Generate()
	after := time.Now()

	decoded := id.Time()
	if decoded.Before(before.Add(-5*time.Millisecond)) || decoded.After(after.Add(5*time.Millisecond)) {
		t.Fatalf("decoded time %v outside [%v, %v]", decoded, before, after)
	}
}

func TestGenerateSequenceExhaustionAdvances(t *testing.T) {
	gen := NewGenerator(0)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	gen.SetNow(func() time.Time {
		calls++
		// Stay inside one millisecond until the generator starts spinning,
		// then advance.
		if calls > sequenceMax+2 {
			return base.Add(time.Duration(calls) * time.Millisecond)
		}
		return base
	})

	prev := gen.Generate()
	for i := 0; i < sequenceMax+10; i++ {
		id := gen.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than %d after sequence rollover", id, prev)
		}
		prev = id
	}
}

func TestGenerateClockRegression(t *testing.T) {
	gen := NewGenerator(0)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(100 * time.Millisecond),
		base.Add(50 * time.Millisecond), // clock jumped back
		base.Add(60 * time.Millisecond),
	}
	idx := 0
	gen.SetNow(func() time.Time {
		t := times[idx]
		if idx < len(times)-1 {
			idx++
		}
		return t
	})

	a := gen.Generate()
	b := gen.Generate()
	c := gen.Generate()
	if b <= a || c <= b {
		t.Fatalf("ids not increasing across clock regression: %d, %d, %d", a, b, c)
	}
}

func TestParseRoundTrip(t *testing.T) {
	gen := NewGenerator(3)
	id := gen.Generate()

	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %d != %d", parsed, id)
	}

	if _, err := Parse("not-a-number"); err == nil {
		t.Fatal("expected error for invalid input")
	}
}

func TestJSONEncoding(t *testing.T) {
	id := ID(123456789012345678)

	data, err := id.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"123456789012345678"` {
		t.Fatalf("unexpected JSON: %s", data)
	}

	var decoded ID
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != id {
		t.Fatalf("round trip mismatch: %d != %d", decoded, id)
	}
}
