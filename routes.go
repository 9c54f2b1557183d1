package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// A RouteSpec is one simulated endpoint. It is immutable after loading.
type RouteSpec struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Rate        float64 `yaml:"rate" json:"rate"`
	FailPercent int     `yaml:"fail" json:"fail"`
}

// Path is the request path the route renders as in a log line
func (r *RouteSpec) Path() string {
	return "/" + r.Endpoint
}

type routeFile struct {
	Routes []*RouteSpec `yaml:"routes"`
}

// A RouteProvider supplies the validated list of routes to simulate
type RouteProvider interface {
	Routes() ([]*RouteSpec, error)
}

// FileRouteProvider loads routes from a YAML file on disk
type FileRouteProvider struct {
	Path string
}

func NewFileRouteProvider(path string) *FileRouteProvider {
	return &FileRouteProvider{Path: path}
}

// Routes reads and validates the file. Every failure is a *ConfigError.
func (p *FileRouteProvider) Routes() ([]*RouteSpec, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, &ConfigError{Path: p.Path, Err: fmt.Errorf("failed to read: %w", err)}
	}

	routes, err := ParseRoutes(data)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = p.Path
		}
		return nil, err
	}

	return routes, nil
}

// ParseRoutes decodes a YAML document of the form:
//
//	routes:
//	  - endpoint: api/users
//	    rate: 10
//	    fail: 5
//
// Unknown fields are rejected so typos don't silently fall back to defaults.
func ParseRoutes(data []byte) ([]*RouteSpec, error) {
	var parsed routeFile

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err := decoder.Decode(&parsed)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Err: fmt.Errorf("failed to parse: %w", err)}
	}

	if len(parsed.Routes) == 0 {
		return nil, &ConfigError{Err: errors.New("no routes configured")}
	}

	for i, route := range parsed.Routes {
		if route == nil {
			return nil, &ConfigError{Err: fmt.Errorf("route %d is empty", i)}
		}

		route.Endpoint = strings.TrimPrefix(strings.TrimSpace(route.Endpoint), "/")

		err := ValidateRoute(route)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("route %d: %w", i, err)}
		}
	}

	return parsed.Routes, nil
}

// ValidateRoute checks the RouteSpec invariants
func ValidateRoute(route *RouteSpec) error {
	if route.Endpoint == "" {
		return errors.New("endpoint cannot be empty")
	}

	// The endpoint is rendered bare inside the quoted request field
	if strings.IndexFunc(route.Endpoint, badEndpointRune) >= 0 {
		return fmt.Errorf("endpoint %q: must not contain whitespace, control characters or quotes", route.Endpoint)
	}

	if math.IsNaN(route.Rate) || math.IsInf(route.Rate, 0) || route.Rate <= 0 {
		return fmt.Errorf("endpoint %s: rate must be a positive number, got %v", route.Endpoint, route.Rate)
	}

	if route.FailPercent < 0 || route.FailPercent > 100 {
		return fmt.Errorf("endpoint %s: fail must be between 0 and 100, got %d", route.Endpoint, route.FailPercent)
	}

	return nil
}

func badEndpointRune(r rune) bool {
	return r == '"' || unicode.IsSpace(r) || unicode.IsControl(r)
}
