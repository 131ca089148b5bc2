package engine

import (
	"errors"
	"fmt"
	"log"
)

var (
	ErrSchemaMismatch      = errors.New("model schema version not supported")
	ErrTierUnavailable     = errors.New("memory tier unavailable")
	ErrArenaReserve        = errors.New("arena reservation failed")
	ErrArenaExhausted      = errors.New("arena exhausted")
	ErrUnsupportedOperator = errors.New("operator not registered")
	ErrResolverFull        = errors.New("operator resolver full")
	ErrMalformedModel      = errors.New("malformed model")
	ErrUnknownTensor       = errors.New("tensor not found in model graph")
	ErrBusy                = errors.New("inference already in flight")
	ErrClosed              = errors.New("engine closed")
)

// BootError reports which bootstrap stage failed. Every error returned by
// Initialize is a *BootError and must stop the process before the loop starts.
type BootError struct {
	Stage string
	Cause error
}

func (e *BootError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bootstrap %s: %v", e.Stage, e.Cause)
	}
	return "bootstrap " + e.Stage
}

func (e *BootError) Unwrap() error {
	return e.Cause
}

func bootErr(stage string, err error) error {
	return &BootError{Stage: stage, Cause: err}
}

// Logf is the package diagnostic logger. Tests may replace it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
