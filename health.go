package main

import (
	"sync/atomic"
	"time"
)

// ProcessHealth is the process-wide state the health endpoint reports on.
// It is created before any scheduler starts and lives until exit.
type ProcessHealth struct {
	StartedAt time.Time

	activeRoutes int64
}

func NewProcessHealth() *ProcessHealth {
	return &ProcessHealth{StartedAt: time.Now().UTC()}
}

func (h *ProcessHealth) RouteStarted() {
	atomic.AddInt64(&h.activeRoutes, 1)
}

func (h *ProcessHealth) RouteStopped() {
	atomic.AddInt64(&h.activeRoutes, -1)
}

// ActiveRoutes is the number of schedulers currently running
func (h *ProcessHealth) ActiveRoutes() int64 {
	return atomic.LoadInt64(&h.activeRoutes)
}

// Uptime since the health state was created
func (h *ProcessHealth) Uptime() time.Duration {
	return time.Since(h.StartedAt)
}

// A RouteState holds the runtime counters for one route. Only the owning
// RouteScheduler writes to it; everyone else reads.
type RouteState struct {
	Route *RouteSpec

	emitted      uint64
	failed       uint64
	lastEmission int64
}

func NewRouteState(route *RouteSpec) *RouteState {
	return &RouteState{Route: route}
}

// Record counts one emission made at the given time
func (s *RouteState) Record(entry *LogEntry) {
	if entry.Failed() {
		atomic.AddUint64(&s.failed, 1)
	}
	atomic.StoreInt64(&s.lastEmission, entry.Timestamp.UnixNano())
	atomic.AddUint64(&s.emitted, 1)
}

func (s *RouteState) Emitted() uint64 {
	return atomic.LoadUint64(&s.emitted)
}

func (s *RouteState) Failed() uint64 {
	return atomic.LoadUint64(&s.failed)
}

// LastEmission returns the zero time if nothing has been emitted yet
func (s *RouteState) LastEmission() time.Time {
	nanos := atomic.LoadInt64(&s.lastEmission)
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
