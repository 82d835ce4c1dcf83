package votor

import (
	"math"
	"time"

	"votor/logx"
	"votor/monitoring"
	"votor/utils"
)

// SkipTrigger tells the vote caster a leader window ran out of time in the
// given view without any certificate forming.
type SkipTrigger struct {
	WindowStart uint64
	View        uint64
}

type windowTimer struct {
	view     uint64
	deadline time.Time
}

// TimeoutManager tracks one adaptive deadline per leader window. The view-k
// timeout is baseTimeout * backoffFactor^(k-1); the sequence is unbounded,
// so once the network stabilizes some view outlasts the true message delay
// and progress resumes. Any certificate for the window resets the running
// deadline. Owned by the vote caster's event loop; not safe for concurrent
// use.
type TimeoutManager struct {
	baseTimeout   time.Duration
	backoffFactor float64
	windows       map[uint64]*windowTimer // window-start slot -> timer
}

func NewTimeoutManager(baseTimeout time.Duration, backoffFactor float64) *TimeoutManager {
	if backoffFactor <= 1.0 {
		logx.Warn("TIMEOUT", "Backoff factor must exceed 1.0, falling back to 1.5")
		backoffFactor = 1.5
	}
	return &TimeoutManager{
		baseTimeout:   baseTimeout,
		backoffFactor: backoffFactor,
		windows:       make(map[uint64]*windowTimer),
	}
}

// ViewTimeout returns the deadline length for a view, growing exponentially.
func (tm *TimeoutManager) ViewTimeout(view uint64) time.Duration {
	if view <= 1 {
		return tm.baseTimeout
	}
	scaled := float64(tm.baseTimeout) * math.Pow(tm.backoffFactor, float64(view-1))
	if scaled > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// Arm installs the view-1 deadline for the slot's window if none is running.
func (tm *TimeoutManager) Arm(slot uint64, now time.Time) {
	windowStart := utils.FirstSlotInWindow(slot)
	if _, exists := tm.windows[windowStart]; exists {
		return
	}
	tm.windows[windowStart] = &windowTimer{
		view:     1,
		deadline: now.Add(tm.ViewTimeout(1)),
	}
}

// CurrentView returns the view the slot's window is in; 1 if never armed.
func (tm *TimeoutManager) CurrentView(slot uint64) uint64 {
	if timer, exists := tm.windows[utils.FirstSlotInWindow(slot)]; exists {
		return timer.view
	}
	return 1
}

// Tick fires every expired window: the view advances, the next (larger)
// deadline is installed, and a skip trigger is returned for the caster.
func (tm *TimeoutManager) Tick(now time.Time) []SkipTrigger {
	var triggers []SkipTrigger
	for windowStart, timer := range tm.windows {
		if timer.deadline.After(now) {
			continue
		}
		triggers = append(triggers, SkipTrigger{WindowStart: windowStart, View: timer.view})
		monitoring.IncreaseTimeoutFiredCount()
		tm.advance(timer, now)
	}
	return triggers
}

// AdvanceView moves the slot's window to the next view and returns it.
func (tm *TimeoutManager) AdvanceView(slot uint64, now time.Time) uint64 {
	windowStart := utils.FirstSlotInWindow(slot)
	timer, exists := tm.windows[windowStart]
	if !exists {
		tm.Arm(slot, now)
		return 1
	}
	tm.advance(timer, now)
	return timer.view
}

func (tm *TimeoutManager) advance(timer *windowTimer, now time.Time) {
	timer.view++
	timer.deadline = now.Add(tm.ViewTimeout(timer.view))
	monitoring.SetCurrentView(timer.view)
}

// OnCertificateObserved resets the running deadline for the slot's window:
// certificates are progress, so the clock starts over at the current view's
// timeout.
func (tm *TimeoutManager) OnCertificateObserved(slot uint64, now time.Time) {
	windowStart := utils.FirstSlotInWindow(slot)
	if timer, exists := tm.windows[windowStart]; exists {
		timer.deadline = now.Add(tm.ViewTimeout(timer.view))
	}
}

// Disarm stops the window's timer once the window is fully decided.
func (tm *TimeoutManager) Disarm(slot uint64) {
	delete(tm.windows, utils.FirstSlotInWindow(slot))
}

// Armed reports whether the slot's window has a running timer.
func (tm *TimeoutManager) Armed(slot uint64) bool {
	_, exists := tm.windows[utils.FirstSlotInWindow(slot)]
	return exists
}
