package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
	"time"

	"github.com/Nitro/sidecar-executor/loghooks"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	log "github.com/sirupsen/logrus"
)

// A LogLine is one formatted access log line plus what we know about where it
// came from.
type LogLine struct {
	Text   string
	Route  string
	Status int
}

// LogOutput is where generated lines end up. Implementations must be safe for
// concurrent use by all the schedulers.
type LogOutput interface {
	Log(line *LogLine) error
	Stop()
}

// A WriterOutput writes each line to an io.Writer (normally stdout) with one
// Write call under a lock, so concurrent lines never interleave. There is no
// buffering: lines are visible as soon as Log returns.
type WriterOutput struct {
	w    io.Writer
	lock sync.Mutex
}

func NewWriterOutput(w io.Writer) *WriterOutput {
	return &WriterOutput{w: w}
}

func (o *WriterOutput) Log(line *LogLine) error {
	buf := make([]byte, 0, len(line.Text)+1)
	buf = append(buf, line.Text...)
	buf = append(buf, '\n')

	o.lock.Lock()
	defer o.lock.Unlock()

	_, err := o.w.Write(buf)
	if err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}

	return nil
}

// Stop is a noop; we don't own the writer
func (o *WriterOutput) Stop() {}

// A MultiOutput copies every line to each of its outputs, in order
type MultiOutput struct {
	outputs []LogOutput
}

func NewMultiOutput(outputs ...LogOutput) *MultiOutput {
	return &MultiOutput{outputs: outputs}
}

func (m *MultiOutput) Log(line *LogLine) error {
	for _, output := range m.outputs {
		err := output.Log(line)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiOutput) Stop() {
	for _, output := range m.outputs {
		output.Stop()
	}
}

type UDPSyslogger struct {
	syslogger *log.Entry
}

// NewUDPSyslogger relays generated lines to a syslog listener as JSON, which
// is what most log shipping agents expect off the wire.
func NewUDPSyslogger(labels map[string]string, address string) *UDPSyslogger {
	syslogger := log.New()

	// UDP because there is no backpressure to deal with, and we would
	// rather drop a synthetic line than slow a scheduler down.
	hook, err := loghooks.NewUDPHook(address)
	if err != nil {
		log.Errorf("Error adding hook: %s", err)
	} else {
		syslogger.Hooks.Add(hook)
	}

	syslogger.SetFormatter(&log.JSONFormatter{
		FieldMap: log.FieldMap{
			log.FieldKeyTime:  "Timestamp",
			log.FieldKeyLevel: "Level",
			log.FieldKeyMsg:   "Payload",
			log.FieldKeyFunc:  "Func",
		},
	})
	syslogger.SetOutput(ioutil.Discard)

	fields := make(log.Fields, len(labels))
	for field, val := range labels {
		fields[field] = val
	}

	return &UDPSyslogger{
		syslogger: syslogger.WithFields(fields),
	}
}

// Log sends the line. Simulated server errors go out at error level.
func (sysl *UDPSyslogger) Log(line *LogLine) error {
	entry := sysl.syslogger.WithFields(log.Fields{
		"Endpoint": line.Route,
		"Status":   line.Status,
	})

	if line.Status >= statusServerError {
		entry.Error(line.Text)
		return nil
	}

	entry.Info(line.Text)
	return nil
}

// Stop would clean up any resources if we needed to manage any
func (sysl *UDPSyslogger) Stop() { /* noop */ }

// A LimitReporter is told about every line that was dropped
type LimitReporter interface {
	Incr()
}

// A RateLimitingOutput is a LogOutput that wraps another LogOutput, capping
// the combined number of lines per interval across all routes.
type RateLimitingOutput struct {
	limitStore    limiter.Store
	limitReporter LimitReporter
	output        LogOutput
	limitKey      string
}

func NewRateLimitingOutput(
	limitReporter LimitReporter, tokenLimit int,
	interval time.Duration, key string, output LogOutput) *RateLimitingOutput {

	store, err := memorystore.New(&memorystore.Config{
		// Number of tokens allowed per interval.
		Tokens: uint64(tokenLimit),

		// Interval until tokens reset.
		Interval: interval,
	})

	if err != nil {
		log.Errorf("Unable to create memory store: %s", err)
	}

	return &RateLimitingOutput{
		limitStore:    store,
		limitReporter: limitReporter,
		output:        output,
		limitKey:      key,
	}
}

// isRateLimited takes a token for the key and reports whether there was
// none left.
func (o *RateLimitingOutput) isRateLimited() bool {
	if o.limitStore == nil {
		return false
	}

	limit, remaining, reset, ok, err := o.limitStore.Take(context.Background(), o.limitKey)
	log.Debugf("Checking rate limit: %d %d %d %t", limit, remaining, reset, ok)
	if err != nil {
		log.Warnf("Unable to fetch rate limit for %v", o.limitKey)
		return true // Rate limit it since we can't track
	}

	return !ok
}

// Log passes the line downstream unless the cap has been hit. A dropped line
// is not an error.
func (o *RateLimitingOutput) Log(line *LogLine) error {
	if !o.isRateLimited() {
		return o.output.Log(line)
	}

	o.limitReporter.Incr()
	return nil
}

// Stop cleans up our resources on shutdown
func (o *RateLimitingOutput) Stop() {
	if o.limitStore != nil {
		_ = o.limitStore.Close(context.Background())
	}
	o.output.Stop()
}
