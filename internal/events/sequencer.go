// Package events implements the per-session event bus: typed event fan-out
// to any number of subscribers, replay of recent history for late joiners,
// and a transport-keepalive heartbeat.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Sequencer issues session-unique event IDs. IDs are lexicographically
// sortable timestamp strings with a counter suffix disambiguating events
// created in the same microsecond. IDs are strictly increasing per session.
type Sequencer struct {
	mu      sync.Mutex
	last    int64
	counter int
	now     func() time.Time
}

// NewSequencer creates a sequencer using the wall clock.
func NewSequencer() *Sequencer {
	return &Sequencer{now: time.Now}
}

// NewSequencerAt creates a sequencer with an injected clock for tests.
func NewSequencerAt(now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{now: now}
}

// Next returns the next event ID.
func (s *Sequencer) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	micro := s.now().UTC().UnixMicro()
	if micro <= s.last {
		// Clock stall or regression: stay on the last timestamp and let
		// the counter keep IDs strictly increasing.
		micro = s.last
		s.counter++
	} else {
		s.last = micro
		s.counter = 0
	}
	return fmt.Sprintf("%020d-%06d", micro, s.counter)
}
