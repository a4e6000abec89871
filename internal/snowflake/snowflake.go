// Package snowflake generates time-sortable unique identifiers used as
// message primary keys and pagination cursors.
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Epoch is the time zero of the ID timestamp field: beginning of 2024.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	timestampShift = 22
	workerShift    = 12
	workerMax      = 1<<10 - 1
	sequenceMax    = 1<<12 - 1
)

// ID is a 64-bit identifier. The high 42 bits hold milliseconds since Epoch,
// the low 22 bits hold the worker and per-millisecond sequence. IDs from the
// same generator are strictly increasing, so `<`/`>` comparisons order them
// by creation time.
type ID uint64

// Time recovers the creation time embedded in the ID.
func (id ID) Time() time.Time {
	ms := int64(id >> timestampShift)
	return Epoch.Add(time.Duration(ms) * time.Millisecond)
}

// String renders the ID as a decimal string, the wire representation.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Parse converts a decimal string into an ID.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse snowflake %q: %w", s, err)
	}
	return ID(v), nil
}

// MarshalJSON encodes the ID as a quoted decimal string. Clients treat IDs
// as opaque strings because they exceed the safe JSON integer range.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted string or a bare number.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Generator produces strictly increasing IDs. Safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	worker   uint64
	sequence uint64
	lastMS   int64

	now func() time.Time
}

// NewGenerator creates a generator with the given worker number.
// Worker values above the 10-bit range are truncated.
func NewGenerator(worker uint64) *Generator {
	return &Generator{
		worker: worker & workerMax,
		now:    time.Now,
	}
}

// SetNow overrides the time source. Intended for tests.
func (g *Generator) SetNow(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Generate returns the next ID. Within a single millisecond the sequence
// field increments; if the sequence space is exhausted the call spins until
// the clock advances. A clock that runs backwards never produces a smaller
// ID: the generator keeps counting against the last observed millisecond.
func (g *Generator) Generate() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.millis()
	if ms < g.lastMS {
		ms = g.lastMS
	}

	if ms == g.lastMS {
		g.sequence++
		if g.sequence > sequenceMax {
			for ms <= g.lastMS {
				ms = g.millis()
			}
			g.sequence = 0
		}
	} else {
		g.sequence = 0
	}
	g.lastMS = ms

	return ID(uint64(ms)<<timestampShift | g.worker<<workerShift | g.sequence)
}

func (g *Generator) millis() int64 {
	return g.now().Sub(Epoch).Milliseconds()
}
