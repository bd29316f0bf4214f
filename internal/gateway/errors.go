package gateway

import (
	"errors"
	"fmt"
	"time"
)

// TransientFailure reports a retryable provider failure that persisted through
// every allowed attempt.
type TransientFailure struct {
	Endpoint   string
	Status     int
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientFailure) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("tmdb %s transient failure (status=%d attempts=%d): %v", e.Endpoint, e.Status, e.Attempts, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("tmdb %s transient failure (status=%d attempts=%d)", e.Endpoint, e.Status, e.Attempts)
	default:
		return fmt.Sprintf("tmdb %s transient failure (attempts=%d): %v", e.Endpoint, e.Attempts, e.Err)
	}
}

func (e *TransientFailure) Unwrap() error { return e.Err }

// PermanentFailure reports a non-retryable failure: a client error other than
// rate limiting, or a payload that failed shape validation.
type PermanentFailure struct {
	Endpoint string
	Status   int
	Reason   string
	Err      error
}

func (e *PermanentFailure) Error() string {
	msg := fmt.Sprintf("tmdb %s permanent failure", e.Endpoint)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PermanentFailure) Unwrap() error { return e.Err }

// NotFound reports whether the provider answered 404.
func (e *PermanentFailure) NotFound() bool { return e.Status == 404 }

// CircuitOpen is returned without network I/O while the breaker cools down.
type CircuitOpen struct {
	Endpoint string
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("tmdb %s skipped: circuit open", e.Endpoint)
}

// NewPermanent builds a PermanentFailure for payloads rejected after transport succeeded.
func NewPermanent(endpoint, reason string, err error) error {
	return &PermanentFailure{Endpoint: endpoint, Reason: reason, Err: err}
}

// IsTransient reports whether err carries a TransientFailure.
func IsTransient(err error) bool {
	var tf *TransientFailure
	return errors.As(err, &tf)
}

// IsPermanent reports whether err carries a PermanentFailure.
func IsPermanent(err error) bool {
	var pf *PermanentFailure
	return errors.As(err, &pf)
}

// IsCircuitOpen reports whether err carries a CircuitOpen.
func IsCircuitOpen(err error) bool {
	var co *CircuitOpen
	return errors.As(err, &co)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var pf *PermanentFailure
	return errors.As(err, &pf) && pf.NotFound()
}

// Classify names the failure class of err for summaries and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsCircuitOpen(err):
		return "circuit_open"
	case IsPermanent(err):
		return "permanent"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
