package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is the per-question countdown. It ticks locally once per second, accepts
// authoritative values from the server, and ignores both once frozen by a submission.
// A disabled timer is inert: Remaining reports ok=false and nothing expires.
type Timer struct {
	clock clockwork.Clock

	mu        sync.Mutex
	enabled   bool
	running   bool
	frozen    bool
	expired   bool
	halted    bool
	remaining int
	startedAt time.Time
	frozenAt  time.Time
	onExpire  func()
	stop      chan struct{}
}

func NewTimer(clock clockwork.Clock) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{clock: clock}
}

// SetEnabled applies the session's timer_enabled setting to subsequent Starts.
func (t *Timer) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Start resets the countdown for a new question. onExpire runs once, on its own
// goroutine, if the countdown reaches zero while unanswered.
func (t *Timer) Start(limitSeconds int, onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.frozen = false
	t.expired = false
	t.halted = false
	t.startedAt = t.clock.Now()
	t.frozenAt = time.Time{}
	t.onExpire = onExpire
	t.remaining = limitSeconds
	t.running = t.enabled && limitSeconds > 0
	if !t.running {
		return
	}

	stop := make(chan struct{})
	t.stop = stop
	ticker := t.clock.NewTicker(time.Second)
	go t.run(stop, ticker)
}

func (t *Timer) run(stop chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if _, ok := t.tick(stop); !ok {
				return
			}
		}
	}
}

// Tick applies one local decrement and returns the new remaining value.
// ok is false when the timer is inert, frozen or already expired.
func (t *Timer) Tick() (int, bool) {
	return t.tick(nil)
}

// tick ignores ticks from a loop that has since been replaced.
func (t *Timer) tick(from chan struct{}) (int, bool) {
	t.mu.Lock()
	if from != nil && from != t.stop {
		remaining := t.remaining
		t.mu.Unlock()
		return remaining, false
	}
	if !t.running || t.frozen || t.expired || t.halted {
		remaining := t.remaining
		t.mu.Unlock()
		return remaining, false
	}
	t.remaining--
	remaining := t.remaining
	fire := t.checkExpiryLocked()
	t.mu.Unlock()

	if fire != nil {
		go fire()
	}
	return remaining, true
}

// Sync overwrites the countdown with the server's value. Ignored after Freeze.
func (t *Timer) Sync(remaining int) {
	t.mu.Lock()
	if !t.running || t.frozen || t.expired || t.halted {
		t.mu.Unlock()
		return
	}
	t.remaining = remaining
	fire := t.checkExpiryLocked()
	t.mu.Unlock()

	if fire != nil {
		go fire()
	}
}

func (t *Timer) checkExpiryLocked() func() {
	if t.remaining > 0 {
		return nil
	}
	t.remaining = 0
	t.expired = true
	t.stopLocked()
	return t.onExpire
}

// Freeze pins the displayed value at the moment of submission.
func (t *Timer) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return
	}
	t.frozen = true
	t.frozenAt = t.clock.Now()
	t.stopLocked()
}

// Resume restarts local ticking after a failed submission un-froze the question.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.frozen {
		return
	}
	t.frozen = false
	t.frozenAt = time.Time{}
	if !t.running || t.expired || t.halted {
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	go t.run(stop, t.clock.NewTicker(time.Second))
}

// Stop halts local ticking without changing the displayed value.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.halted = true
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Remaining returns the displayed countdown; ok is false when no countdown should render.
func (t *Timer) Remaining() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0, false
	}
	return t.remaining, true
}

// Expired reports whether the countdown ran out before an answer was submitted.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Elapsed is the time spent on the current question, measured up to the freeze.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		return 0
	}
	if !t.frozenAt.IsZero() {
		return t.frozenAt.Sub(t.startedAt)
	}
	return t.clock.Since(t.startedAt)
}
