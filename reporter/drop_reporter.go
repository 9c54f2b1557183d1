package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

const (
	eventType = "LogGeneratorLinesDropped"

	// Carries the events key, when there is one
	eventsKeyHeader = "X-Events-Key"
)

// A DropReporter tracks the number of generated lines we have dropped because
// of the global output cap. It logs the count on each interval and, when an
// events URL is configured, posts it there as an event.
type DropReporter struct {
	client    *http.Client
	EventsURL string
	EventsKey string

	droppedCount uint64
	ReportLooper director.Looper
	hostname     string
}

// NewDropReporter returns a properly configured reporter. An empty url means
// counts are only logged.
func NewDropReporter(url, eventsKey string, interval time.Duration) *DropReporter {
	client := cleanhttp.DefaultClient()

	hostname, err := os.Hostname()
	if err != nil {
		log.Warnf("Unable to determine hostname: %s", err)
		hostname = "unknown"
	}

	return &DropReporter{
		client:       client,
		EventsURL:    url,
		EventsKey:    eventsKey,
		ReportLooper: director.NewTimedLooper(director.FOREVER, interval, make(chan error)),
		hostname:     hostname,
	}
}

// Incr atomically increments the current count
func (r *DropReporter) Incr() {
	atomic.AddUint64(&r.droppedCount, 1)
}

// Run starts up a background goroutine that reports on each interval
func (r *DropReporter) Run() {
	if r.EventsURL != "" {
		log.Infof("Reporting dropped lines to %s", r.EventsURL)
	}

	go r.ReportLooper.Loop(func() error {
		// Get the current count, subtract it from the total using
		// atomic operations. This makes sure we don't lose any increments.
		count := atomic.LoadUint64(&r.droppedCount)
		atomic.AddUint64(&r.droppedCount, 0-count)

		if count == 0 {
			return nil
		}

		log.Warnf("Dropped %d generated lines over the output rate cap", count)

		if r.EventsURL != "" {
			err := r.sendEvent(count)
			// We _don't_ want to exit on error
			if err != nil {
				log.Errorf("Error reporting dropped lines: %s", err)
			}
		}

		return nil
	})
}

// sendEvent serializes JSON and posts it to the events URL
func (r *DropReporter) sendEvent(count uint64) error {
	data, err := json.Marshal(struct {
		Time         string
		Hostname     string
		DroppedCount uint64
		EventType    string `json:"eventType"`
	}{
		Time:         time.Now().UTC().Format(time.RFC3339),
		Hostname:     r.hostname,
		DroppedCount: count,
		EventType:    eventType,
	})
	if err != nil {
		return fmt.Errorf("unable to encode JSON event: %w", err)
	}

	buf := bytes.NewBuffer(data)
	req, err := http.NewRequest("POST", r.EventsURL, buf)
	if err != nil {
		return fmt.Errorf("unable to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.EventsKey != "" {
		req.Header.Set(eventsKeyHeader, r.EventsKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed making HTTP request to %s: %w", r.EventsURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("bad response from %s: %s", r.EventsURL, string(body))
	}

	return nil
}
