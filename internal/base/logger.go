package base

import (
	"fmt"
	"log"
	"os"
)

// Logger is the minimal logging surface the engine writes diagnostics to.
// It is small enough for a caller to back with any structured logger
// without pulling that dependency into this module.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger writes to the standard library logger.
type DefaultLogger struct{}

// Infof implements Logger.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf("INFO: "+format, args...))
}

// Errorf implements Logger.
func (DefaultLogger) Errorf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf("ERROR: "+format, args...))
}

// Fatalf implements Logger.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf("FATAL: "+format, args...))
	os.Exit(1)
}
