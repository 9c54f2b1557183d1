package main

import (
	"fmt"
	"math/rand"
	"time"
)

const (
	// Access log timestamps are always rendered in UTC
	timestampFormat = "02/Jan/2006:15:04:05 +0000"

	requestMethod   = "GET"
	requestProtocol = "HTTP/1.1"
	emptyReferrer   = "-"

	statusOK          = 200
	statusServerError = 500
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) AppleWebKit/605.1.15",
}

// A LogEntry is one synthesized request. It is formatted right away and
// never kept around.
type LogEntry struct {
	ClientAddress string
	Timestamp     time.Time
	Method        string
	Path          string
	StatusCode    int
	BodySize      int
	Referrer      string
	UserAgent     string
}

// Failed reports whether the entry simulates a server error
func (e *LogEntry) Failed() bool {
	return e.StatusCode >= statusServerError
}

// String renders the entry in combined access log format
func (e *LogEntry) String() string {
	return fmt.Sprintf(`%s - - [%s] "%s %s %s" %d %d "%s" "%s"`,
		e.ClientAddress,
		e.Timestamp.UTC().Format(timestampFormat),
		e.Method, e.Path, requestProtocol,
		e.StatusCode, e.BodySize,
		e.Referrer, e.UserAgent,
	)
}

// GenerateEntry builds one entry for the route using only the supplied random
// source. A route that violates its invariants returns a *ValidationError.
func GenerateEntry(route *RouteSpec, rng *rand.Rand, now time.Time) (*LogEntry, error) {
	err := ValidateRoute(route)
	if err != nil {
		return nil, &ValidationError{Endpoint: route.Endpoint, Err: err}
	}

	// Uniform draw in [0,100): 0 never fails, 100 always does
	status := statusOK
	if rng.Float64()*100 < float64(route.FailPercent) {
		status = statusServerError
	}

	bodySize := 200 + rng.Intn(4801)
	if status != statusOK {
		bodySize = 150 + rng.Intn(351)
	}

	return &LogEntry{
		ClientAddress: randomAddress(rng),
		Timestamp:     now,
		Method:        requestMethod,
		Path:          route.Path(),
		StatusCode:    status,
		BodySize:      bodySize,
		Referrer:      emptyReferrer,
		UserAgent:     userAgents[rng.Intn(len(userAgents))],
	}, nil
}

// randomAddress avoids .0 in the first and last octets
func randomAddress(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		1+rng.Intn(255), rng.Intn(256), rng.Intn(256), 1+rng.Intn(255),
	)
}
