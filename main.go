package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Shimmur/loggen/reporter"
	"github.com/kelseyhightower/envconfig"
	"github.com/relistan/rubberneck"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	ConfigPath         string            `envconfig:"CONFIG_PATH" default:"config.yaml"`
	HealthHost         string            `envconfig:"HEALTH_HOST" default:"0.0.0.0"`
	HealthPort         int               `envconfig:"HEALTH_PORT" default:"8080"`
	LogLevel           string            `envconfig:"LOG_LEVEL" default:"info"`
	LogFile            string            `envconfig:"LOG_FILE"`
	SyslogAddress      string            `envconfig:"SYSLOG_ADDRESS"`
	SyslogLabels       map[string]string `envconfig:"SYSLOG_LABELS"`
	MaxLinesPerSec     int               `envconfig:"MAX_LINES_PER_SEC" default:"0"`
	StatsInterval      time.Duration     `envconfig:"STATS_INTERVAL" default:"30s"`
	ShutdownTimeout    time.Duration     `envconfig:"SHUTDOWN_TIMEOUT" default:"1s"`
	EventsURL          string            `envconfig:"EVENTS_URL"`
	EventsKey          string            `envconfig:"EVENTS_KEY"`
	DropReportInterval time.Duration     `envconfig:"DROP_REPORT_INTERVAL" default:"1m"`
	ProbeTimeout       time.Duration     `envconfig:"PROBE_TIMEOUT" default:"2s"`
}

// healthAddress is where the health server binds
func (c *Config) healthAddress() string {
	return net.JoinHostPort(c.HealthHost, strconv.Itoa(c.HealthPort))
}

// probeAddress is where a local probe should connect. Wildcard binds are
// reached over loopback.
func (c *Config) probeAddress() string {
	host := c.HealthHost
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.HealthPort))
}

// buildOutput assembles the output chain: stdout always, the syslog relay if
// configured, and the global cap wrapped around the lot.
func buildOutput(config *Config, limitReporter LimitReporter) LogOutput {
	var output LogOutput = NewWriterOutput(os.Stdout)

	if config.SyslogAddress != "" {
		output = NewMultiOutput(output, NewUDPSyslogger(config.SyslogLabels, config.SyslogAddress))
	}

	if config.MaxLinesPerSec > 0 {
		output = NewRateLimitingOutput(
			limitReporter, config.MaxLinesPerSec, 1*time.Second, "loggen", output,
		)
	}

	return output
}

func runProbe(config *Config) int {
	health, err := NewHealthProbe(config.probeAddress(), config.ProbeTimeout).Check()
	if err != nil {
		log.Errorf("Health probe failed: %s", err)
		return 1
	}

	log.Infof("Generator is %s with %d active routes", health.Status, health.Routes)
	return 0
}

func main() {
	var config Config
	err := envconfig.Process("loggen", &config)
	if err != nil {
		log.Fatal(err.Error())
	}

	err = configureLogging(config.LogLevel, config.LogFile)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %s", config.LogLevel, err)
	}

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "probe" {
		os.Exit(runProbe(&config))
	}
	if len(args) > 0 {
		config.ConfigPath = args[0]
	}

	// stdout is reserved for generated lines
	rubberneck.NewPrinter(log.Infof, rubberneck.NoAddLineFeed).Print(config)

	routes, err := NewFileRouteProvider(config.ConfigPath).Routes()
	if err != nil {
		log.Fatalf("Unable to load routes: %s", err)
	}

	drops := reporter.NewDropReporter(config.EventsURL, config.EventsKey, config.DropReportInterval)
	output := buildOutput(&config, drops)

	supervisor := NewSupervisor(routes, output, config.healthAddress(), config.ShutdownTimeout)
	err = supervisor.Start()
	if err != nil {
		log.Fatalf("Unable to start: %s", err)
	}

	if config.MaxLinesPerSec > 0 {
		drops.Run()
	}

	if config.StatsInterval > 0 {
		NewStatsReporter(supervisor.States, config.StatsInterval).Run()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = supervisor.Run(ctx)
	stop()

	if err != nil {
		log.Fatalf("Log generator failed: %s", err)
	}

	log.Info("Log generator stopped")
}
