package main

import (
	"time"

	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

// A StatsReporter periodically logs the rate each route actually achieved
// since the previous report, so drift is visible without scraping metrics.
type StatsReporter struct {
	Looper director.Looper

	states   []*RouteState
	previous map[*RouteState]uint64
	lastRun  time.Time
	clock    func() time.Time
}

func NewStatsReporter(states []*RouteState, interval time.Duration) *StatsReporter {
	return &StatsReporter{
		Looper:   director.NewTimedLooper(director.FOREVER, interval, make(chan error)),
		states:   states,
		previous: make(map[*RouteState]uint64, len(states)),
		lastRun:  time.Now(),
		clock:    time.Now,
	}
}

// Run starts reporting in the background
func (r *StatsReporter) Run() {
	go r.Looper.Loop(func() error {
		r.report()
		return nil
	})
}

func (r *StatsReporter) report() {
	now := r.clock()
	elapsed := now.Sub(r.lastRun).Seconds()
	r.lastRun = now

	for _, state := range r.states {
		emitted := state.Emitted()
		delta := emitted - r.previous[state]
		r.previous[state] = emitted

		var achieved float64
		if elapsed > 0 {
			achieved = float64(delta) / elapsed
		}

		var failRatio float64
		if emitted > 0 {
			failRatio = float64(state.Failed()) / float64(emitted) * 100
		}

		log.WithFields(log.Fields{
			"endpoint": state.Route.Path(),
			"target":   state.Route.Rate,
			"achieved": achieved,
			"emitted":  emitted,
			"failPct":  failRatio,
		}).Infof("Stats: %s emitted %d logs (%.2f logs/sec, target %v)",
			state.Route.Path(), delta, achieved, state.Route.Rate)
	}
}
