package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	loghttp "github.com/motemen/go-loghttp"
	log "github.com/sirupsen/logrus"
)

// A HealthProbe queries a running generator's /health endpoint. It backs the
// `probe` command, which container health checks can call.
type HealthProbe struct {
	Timeout time.Duration
	Address string

	client *http.Client
}

func NewHealthProbe(address string, timeout time.Duration) *HealthProbe {
	p := &HealthProbe{
		Timeout: timeout,
		Address: address,
	}

	p.client = cleanhttp.DefaultClient()
	p.client.Timeout = p.Timeout
	p.client.Transport = &loghttp.Transport{
		LogRequest: func(req *http.Request) {
			log.Debugf("%s %s", req.Method, req.URL)
		},
		LogResponse: func(resp *http.Response) {
			log.Debugf("%d %s", resp.StatusCode, resp.Request.URL)
		},
		Transport: cleanhttp.DefaultTransport(),
	}

	return p
}

// Check returns the decoded health response, or an error if the generator
// could not be reached or did not answer with a 2xx.
func (p *HealthProbe) Check() (*HealthResponse, error) {
	healthURL := url.URL{
		Scheme: "http",
		Host:   p.Address,
		Path:   "/health",
	}

	resp, err := p.client.Get(healthURL.String())
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", healthURL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		return nil, fmt.Errorf("got unexpected response code from %s: %d", healthURL.String(), resp.StatusCode)
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", healthURL.String(), err)
	}

	var health HealthResponse
	err = json.Unmarshal(body, &health)
	if err != nil {
		return nil, fmt.Errorf("unable to decode health response: %w", err)
	}

	if health.Status != healthyStatus {
		return &health, fmt.Errorf("generator reported status %q", health.Status)
	}

	return &health, nil
}
