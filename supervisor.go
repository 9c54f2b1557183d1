package main

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// A Supervisor owns one RouteScheduler per route plus the health server. It
// does not restart schedulers that die; a lower route count on /health is
// how that shows up.
type Supervisor struct {
	Routes []*RouteSpec
	States []*RouteState
	Health *ProcessHealth

	output          LogOutput
	metrics         *Metrics
	server          *HealthServer
	healthAddr      string
	shutdownTimeout time.Duration

	schedulers   []*RouteScheduler
	fatal        chan error
	exited       sync.WaitGroup
	shutdownOnce sync.Once
}

// NewSupervisor prepares state for every route. Nothing runs until Start.
func NewSupervisor(routes []*RouteSpec, output LogOutput, healthAddr string,
	shutdownTimeout time.Duration) *Supervisor {

	health := NewProcessHealth()
	metrics := NewMetrics(health)

	states := make([]*RouteState, 0, len(routes))
	for _, route := range routes {
		states = append(states, NewRouteState(route))
	}

	return &Supervisor{
		Routes:          routes,
		States:          states,
		Health:          health,
		output:          output,
		metrics:         metrics,
		server:          NewHealthServer(health, states, metrics),
		healthAddr:      healthAddr,
		shutdownTimeout: shutdownTimeout,
		fatal:           make(chan error, 1),
	}
}

// Start binds the health port, then starts every scheduler. A port conflict
// is returned before any route emits anything.
func (s *Supervisor) Start() error {
	err := s.server.Listen(s.healthAddr)
	if err != nil {
		return err
	}
	s.server.Serve()

	log.Infof("Starting log generator with %d routes...", len(s.States))

	seed := time.Now().UnixNano()
	for i, state := range s.States {
		scheduler := NewRouteScheduler(state, s.output, s.Health, s.metrics, seed+int64(i))
		s.schedulers = append(s.schedulers, scheduler)

		s.exited.Add(1)
		scheduler.Run()
		go s.watch(scheduler)
	}

	return nil
}

// HealthAddr is where the health server is actually listening
func (s *Supervisor) HealthAddr() string {
	return s.server.Addr()
}

// watch waits on one scheduler. Only a ResourceError takes the process down;
// anything else just leaves that route inactive.
func (s *Supervisor) watch(scheduler *RouteScheduler) {
	defer s.exited.Done()

	err := scheduler.Wait()
	if err == nil {
		return
	}

	var resErr *ResourceError
	if errors.As(err, &resErr) {
		select {
		case s.fatal <- err:
		default: // Someone already reported one
		}
		return
	}

	log.Warnf("Route %s is no longer active: %s", scheduler.Route.Path(), err)
}

// Run blocks until the context is cancelled or a scheduler hits a fatal
// error, then shuts everything down. The fatal error, if any, is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	var err error

	select {
	case <-ctx.Done():
		log.Info("Shutting down log generator...")
	case err = <-s.fatal:
		log.Errorf("Shutting down log generator after fatal error: %s", err)
	}

	s.Shutdown()
	return err
}

// Shutdown stops all schedulers and waits for them, then stops the health
// server and the output. No lines are written once it returns.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		for _, scheduler := range s.schedulers {
			scheduler.Stop()
		}
		s.exited.Wait()

		err := s.server.Shutdown(s.shutdownTimeout)
		if err != nil {
			log.Warnf("Health server did not shut down cleanly: %s", err)
		}

		s.output.Stop()
	})
}
