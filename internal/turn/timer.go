package turn

import (
	"time"

	"github.com/benbjohnson/clock"
)

type timerKind int

const (
	idleTimer timerKind = iota
	warmupTimer
)

// timerFired is posted to the event loop when a slot's timer expires.
type timerFired struct {
	kind timerKind
	seq  uint64
}

// timerSlot holds at most one pending timer. Arming replaces the previous timer,
// and a fire from a replaced or cancelled timer is recognised as stale by seq.
type timerSlot struct {
	kind timerKind
	clk  clock.Clock
	post func(any)

	t   *clock.Timer
	seq uint64
}

func (s *timerSlot) Arm(d time.Duration) {
	s.Cancel()
	s.seq++
	seq, kind, post := s.seq, s.kind, s.post
	s.t = s.clk.AfterFunc(d, func() { post(timerFired{kind: kind, seq: seq}) })
}

func (s *timerSlot) Cancel() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}

func (s *timerSlot) Armed() bool { return s.t != nil }

// Claim reports whether the fire is from the live timer and clears the slot.
func (s *timerSlot) Claim(f timerFired) bool {
	if s.t == nil || f.seq != s.seq {
		return false
	}
	s.t = nil
	return true
}
