package sseresume

import "time"

// scheduler abstracts deferred execution so that reconnect and heartbeat
// timing logic is testable without real wall-clock waits.
type scheduler interface {
	// schedule runs fn once after delay d. The returned handle cancels
	// the pending call, a handle of a call already past firing is a
	// no-op.
	schedule(d time.Duration, fn func()) timerHandle
}

type timerHandle interface {
	stop()
}

// wallScheduler is the production scheduler backed by the runtime timers.
type wallScheduler struct{}

func (wallScheduler) schedule(d time.Duration, fn func()) timerHandle {
	return wallTimer{t: time.AfterFunc(d, fn)}
}

type wallTimer struct {
	t *time.Timer
}

func (w wallTimer) stop() {
	w.t.Stop()
}
