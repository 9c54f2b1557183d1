package main

import (
	"net"
	"os"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

const healthyStatus = "healthy"

type HealthResponse struct {
	Status    string `json:"status"`
	Routes    int64  `json:"routes"`
	Timestamp string `json:"timestamp"`
}

type RouteStatus struct {
	Endpoint     string  `json:"endpoint"`
	Rate         float64 `json:"rate"`
	FailPercent  int     `json:"fail"`
	Emitted      uint64  `json:"emitted"`
	Failed       uint64  `json:"failed"`
	LastEmission string  `json:"last_emission,omitempty"`
}

type StatusResponse struct {
	Status        string         `json:"status"`
	StartedAt     string         `json:"started_at"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	ActiveRoutes  int64          `json:"active_routes"`
	Goroutines    int            `json:"goroutines"`
	RSSBytes      uint64         `json:"rss_bytes,omitempty"`
	CPUPercent    float64        `json:"cpu_percent,omitempty"`
	Routes        []*RouteStatus `json:"routes"`
}

// A HealthServer answers liveness queries about the generator. It reads only
// atomic counters, so it never waits on the schedulers or the output.
type HealthServer struct {
	app      *fiber.App
	health   *ProcessHealth
	states   []*RouteState
	listener net.Listener
	proc     *process.Process
}

func NewHealthServer(health *ProcessHealth, states []*RouteState, metrics *Metrics) *HealthServer {
	s := &HealthServer{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "loggen",
		}),
		health: health,
		states: states,
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warnf("Unable to inspect own process, /status will omit usage: %s", err)
	} else {
		s.proc = proc
	}

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/status", s.handleStatus)
	if metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		))
	}

	return s
}

func (s *HealthServer) handleHealth(c *fiber.Ctx) error {
	return c.JSON(&HealthResponse{
		Status:    healthyStatus,
		Routes:    s.health.ActiveRoutes(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *HealthServer) handleStatus(c *fiber.Ctx) error {
	resp := &StatusResponse{
		Status:        healthyStatus,
		StartedAt:     s.health.StartedAt.Format(time.RFC3339),
		UptimeSeconds: s.health.Uptime().Seconds(),
		ActiveRoutes:  s.health.ActiveRoutes(),
		Goroutines:    runtime.NumGoroutine(),
		Routes:        make([]*RouteStatus, 0, len(s.states)),
	}

	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
	}

	for _, state := range s.states {
		status := &RouteStatus{
			Endpoint:    state.Route.Path(),
			Rate:        state.Route.Rate,
			FailPercent: state.Route.FailPercent,
			Emitted:     state.Emitted(),
			Failed:      state.Failed(),
		}
		if last := state.LastEmission(); !last.IsZero() {
			status.LastEmission = last.Format(time.RFC3339Nano)
		}
		resp.Routes = append(resp.Routes, status)
	}

	return c.JSON(resp)
}

// Listen binds the port without serving yet, so a port conflict is reported
// before anything else starts.
func (s *HealthServer) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return &ResourceError{Resource: "health listener " + address, Err: err}
	}
	s.listener = listener
	return nil
}

// Addr is the bound address, useful when listening on port 0
func (s *HealthServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the server in the background on the bound listener
func (s *HealthServer) Serve() {
	log.Infof("Starting health check server on %s...", s.Addr())

	go func() {
		err := s.app.Listener(s.listener)
		if err != nil {
			log.Errorf("Health server exited: %s", err)
		}
	}()
}

// Shutdown closes the listener and waits up to timeout for open requests
func (s *HealthServer) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}
