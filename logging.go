package main

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// configureLogging sets up our own diagnostics. They always go to stderr,
// because stdout carries the generated access log. A logFile adds a rotated
// copy on disk.
func configureLogging(level, logFile string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)

	if logFile == "" {
		log.SetOutput(os.Stderr)
		return nil
	}

	fileLogger := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     0, // don't delete by age
	}

	log.SetOutput(io.MultiWriter(os.Stderr, fileLogger))
	return nil
}
