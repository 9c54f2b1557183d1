package main

import "fmt"

// A ConfigError means the route configuration could not be read or did not
// pass validation. Nothing is started when one is returned.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid route config: %s", e.Err)
	}
	return fmt.Sprintf("invalid route config %s: %s", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// A ValidationError is an invariant violation that reached the generator.
// It stops the scheduler that hit it.
type ValidationError struct {
	Endpoint string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("route /%s failed validation: %s", e.Endpoint, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// A ResourceError is fatal for the whole process: the health port is taken,
// or the output stream can't be written.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s unavailable: %s", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
