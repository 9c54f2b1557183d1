package main

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

const (
	// How many intervals a scheduler may fall behind before it gives up on
	// the missed deadlines and resynchronizes to the current time
	resyncIntervals = 3

	// Floor for the resync lag, so very fast routes aren't resynced by
	// ordinary timer jitter
	minResyncLag = 100 * time.Millisecond
)

var errSchedulerStopped = errors.New("scheduler stopped")

// A RouteScheduler emits entries for one route at its configured rate until
// it is stopped. Each one runs in its own goroutine, driven by a looper.
type RouteScheduler struct {
	Route *RouteSpec
	State *RouteState

	output  LogOutput
	health  *ProcessHealth
	metrics *Metrics
	looper  director.Looper
	rng     *rand.Rand
	clock   func() time.Time

	interval time.Duration
	next     time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRouteScheduler returns a scheduler for the route held by state. Each
// scheduler owns its own random source, seeded by the caller.
func NewRouteScheduler(state *RouteState, output LogOutput, health *ProcessHealth,
	metrics *Metrics, seed int64) *RouteScheduler {

	return &RouteScheduler{
		Route:    state.Route,
		State:    state,
		output:   output,
		health:   health,
		metrics:  metrics,
		looper:   director.NewFreeLooper(director.FOREVER, make(chan error)),
		rng:      rand.New(rand.NewSource(seed)),
		clock:    time.Now,
		interval: intervalFor(state.Route.Rate),
		stopChan: make(chan struct{}),
	}
}

// intervalFor converts a per-second rate into the time between emissions.
// Rates too small to fit in a Duration get the longest one there is.
func intervalFor(rate float64) time.Duration {
	nanos := float64(time.Second) / rate
	if nanos >= math.MaxInt64 {
		return math.MaxInt64
	}
	if nanos < 1 {
		return 1
	}
	return time.Duration(nanos)
}

// nextDeadline advances from the previous deadline rather than from now, so
// time spent emitting doesn't drag the rate down. If we are so far behind
// that catching up would mean a burst, we start over from now instead.
func nextDeadline(prev, now time.Time, interval time.Duration) time.Time {
	next := prev.Add(interval)

	allowed := time.Duration(math.MaxInt64)
	if interval <= allowed/resyncIntervals {
		allowed = max(resyncIntervals*interval, minResyncLag)
	}

	if now.Sub(next) > allowed {
		return now.Add(interval)
	}
	return next
}

// Run counts the route as active and starts emitting in the background. The
// first entry goes out immediately.
func (s *RouteScheduler) Run() {
	log.Infof("Starting log generation for %s at %v logs/sec with %d%% failures",
		s.Route.Path(), s.Route.Rate, s.Route.FailPercent)

	s.health.RouteStarted()
	s.next = s.clock()

	go s.looper.Loop(s.tick)
}

// tick is one iteration: wait for the deadline, emit, schedule the next one
func (s *RouteScheduler) tick() error {
	err := s.sleepUntil(s.next)
	if err != nil {
		return s.exit(err)
	}

	entry, err := GenerateEntry(s.Route, s.rng, s.clock())
	if err != nil {
		return s.exit(err)
	}

	err = s.output.Log(&LogLine{
		Text:   entry.String(),
		Route:  s.Route.Endpoint,
		Status: entry.StatusCode,
	})
	if err != nil {
		return s.exit(&ResourceError{Resource: "output", Err: err})
	}

	s.State.Record(entry)
	s.metrics.Observe(s.Route, entry)

	s.next = nextDeadline(s.next, s.clock(), s.interval)

	return nil
}

// sleepUntil blocks until the deadline or until Stop is called, whichever is
// first. A stop always wins, even if the deadline has also passed.
func (s *RouteScheduler) sleepUntil(deadline time.Time) error {
	wait := deadline.Sub(s.clock())
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-s.stopChan:
			return errSchedulerStopped
		case <-timer.C:
		}
	}

	select {
	case <-s.stopChan:
		return errSchedulerStopped
	default:
		return nil
	}
}

func (s *RouteScheduler) exit(err error) error {
	s.health.RouteStopped()
	if !errors.Is(err, errSchedulerStopped) {
		log.Errorf("Stopped log generation for %s: %s", s.Route.Path(), err)
	}
	return err
}

// Stop asks the scheduler to exit. Safe to call more than once.
func (s *RouteScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Wait blocks until the scheduler has exited. It returns nil after a normal
// Stop, and the error that ended it otherwise. Call it once.
func (s *RouteScheduler) Wait() error {
	err := s.looper.Wait()
	if errors.Is(err, errSchedulerStopped) {
		return nil
	}
	return err
}
