package main

import (
	"bytes"
	"errors"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// accessLogLine is the exact shape every generated line must have
var accessLogLine = regexp.MustCompile(
	`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3} - - \[\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2} \+0000\] ` +
		`"GET /[^ "]+ HTTP/1\.1" (200|500) \d+ "-" "Mozilla/5\.0 [^"]+"$`,
)

// LogCapture logs for async testing where we can't get a nice handle on things
func LogCapture(fn func()) string {
	capture := &lockedBuffer{}
	log.SetOutput(capture)
	fn()
	log.SetOutput(os.Stderr)

	return capture.String()
}

// lockedBuffer is a bytes.Buffer that is safe for concurrent writers
type lockedBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.Lock()
	defer b.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Lines() []string {
	text := strings.TrimSuffix(b.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// mockLogOutput implements the LogOutput interface, for testing
type mockLogOutput struct {
	sync.Mutex

	ShouldError   bool
	Delay         time.Duration
	CallCount     int
	StopWasCalled bool
	LastLogged    *LogLine
	Logged        []*LogLine
}

func (m *mockLogOutput) Log(line *LogLine) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.Lock()
	defer m.Unlock()

	if m.ShouldError {
		return errors.New("intentional test error")
	}

	m.CallCount++
	m.LastLogged = line
	m.Logged = append(m.Logged, line)
	return nil
}

func (m *mockLogOutput) Stop() {
	m.Lock()
	defer m.Unlock()
	m.StopWasCalled = true
}

func (m *mockLogOutput) Count() int {
	m.Lock()
	defer m.Unlock()
	return m.CallCount
}

func (m *mockLogOutput) Lines() []*LogLine {
	m.Lock()
	defer m.Unlock()
	return append([]*LogLine{}, m.Logged...)
}

// mockLimitReporter implements the LimitReporter interface
type mockLimitReporter struct {
	sync.Mutex
	Count int
}

func (r *mockLimitReporter) Incr() {
	r.Lock()
	defer r.Unlock()
	r.Count++
}

// failingWriter can't be written to, like a closed stdout
type failingWriter struct{}

func (w *failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

// waitFor polls fn until it is true or the timeout passes
func waitFor(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fn()
}
