package sseresume

import (
	"sync"
	"time"
)

// DefaultHeartbeatEvent is the event type of synthetic liveness events.
const DefaultHeartbeatEvent = "heartbeat"

// heartbeatMonitor fires a synthetic liveness signal at a fixed period
// while a client connection is open. The heartbeat is purely local, it does
// not probe the server and cannot detect a silently stalled but still open
// connection.
type heartbeatMonitor struct {
	interval time.Duration
	sched    scheduler
	fire     func()

	mu      sync.Mutex
	running bool
	timer   timerHandle
}

func newHeartbeatMonitor(interval time.Duration, sched scheduler, fire func()) *heartbeatMonitor {
	return &heartbeatMonitor{
		interval: interval,
		sched:    sched,
		fire:     fire,
	}
}

// start begins periodic firing. It is a no-op when no interval is
// configured or the monitor is already running.
func (m *heartbeatMonitor) start() {
	if m.interval <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.timer = m.sched.schedule(m.interval, m.tick)
}

// stop halts the monitor. A tick that already fired concurrently with stop
// is suppressed by the running flag.
func (m *heartbeatMonitor) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.timer != nil {
		m.timer.stop()
		m.timer = nil
	}
}

func (m *heartbeatMonitor) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.timer = m.sched.schedule(m.interval, m.tick)
	m.mu.Unlock()

	m.fire()
}
