package core

// CycleCallback runs when a scheduled entry's target cycle has been
// reached. Returning a positive value re-arms the same (cb, param) pair at
// target+offset — the preferred idiom for periodic peripheral work
// (spec.md 4.B). Returning 0 cancels the entry.
type CycleCallback func(now uint64, param interface{}) uint64

type timerEntry struct {
	target uint64
	cb     CycleCallback
	param  interface{}
}

// Scheduler is the ordered set of deferred callbacks keyed by absolute
// cycle count, driving every peripheral's timed behavior. Peripherals never
// poll; they re-arm themselves here. The list is a sorted slice: O(n)
// insert is fine because n is bounded by the live peripheral count (<32),
// per spec.md 4.B.
type Scheduler struct {
	entries []timerEntry
	now     func() uint64
}

// NewScheduler creates a scheduler that reads the current absolute cycle
// from nowFn (normally Machine.Cycle).
func NewScheduler(nowFn func() uint64) *Scheduler {
	return &Scheduler{now: nowFn}
}

// Register schedules cb(now+offset, param). Re-registering the same
// (cb, param) pair cancels the prior entry first and moves it, per
// spec.md 4.B — duplicate (callback, parameter) pairs are forbidden.
func (s *Scheduler) Register(offset uint64, cb CycleCallback, param interface{}) {
	s.Cancel(cb, param)
	target := s.now() + offset
	s.insert(timerEntry{target, cb, param})
}

// RegisterAbs schedules cb to fire at the absolute cycle target, used by
// peripherals that compute a period boundary directly (e.g. the timer's
// BOTTOM callback in phase-correct PWM) rather than as now+offset.
func (s *Scheduler) RegisterAbs(target uint64, cb CycleCallback, param interface{}) {
	s.Cancel(cb, param)
	s.insert(timerEntry{target, cb, param})
}

func (s *Scheduler) insert(e timerEntry) {
	i := 0
	for i < len(s.entries) && s.entries[i].target <= e.target {
		i++
	}
	s.entries = append(s.entries, timerEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

// Cancel removes the entry matching (cb, param), if any. Go func values
// aren't comparable, so matching is keyed on param alone — every
// peripheral in this codebase uses one stable param (usually its own
// pointer) per distinct recurring callback, which is sufficient to
// identify "the same (cb, param) pair" in practice.
func (s *Scheduler) Cancel(cb CycleCallback, param interface{}) {
	for i, e := range s.entries {
		if e.param == param {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// CancelParam removes every entry whose param equals p, regardless of
// callback — used when a peripheral is reset and must drop all of its
// pending work in one call.
func (s *Scheduler) CancelParam(p interface{}) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.param != p {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// Process runs every entry whose target has been reached, in increasing
// target order (same-target entries in insertion/FIFO order, since the
// slice is kept sorted stably). It returns the number of cycles until the
// next pending entry (capped at cap), for the CPU to use as a sleep
// duration suggestion.
func (s *Scheduler) Process(capCycles uint64) uint64 {
	now := s.now()
	for len(s.entries) > 0 && s.entries[0].target <= now {
		e := s.entries[0]
		s.entries = s.entries[1:]
		if next := e.cb(e.target, e.param); next > 0 {
			s.RegisterAbs(e.target+next, e.cb, e.param)
		}
	}
	if len(s.entries) == 0 {
		return capCycles
	}
	remain := s.entries[0].target - now
	if remain > capCycles {
		return capCycles
	}
	return remain
}

// Reset drops every scheduled entry, used on Machine.Reset.
func (s *Scheduler) Reset() {
	s.entries = nil
}

// Len reports the number of live entries, mainly for tests.
func (s *Scheduler) Len() int { return len(s.entries) }
