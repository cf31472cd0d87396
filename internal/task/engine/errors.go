package engine

import (
	"errors"
	"time"
)

// Enqueue failures.
var (
	ErrDisabled    = errors.New("engine: disabled")
	ErrStopped     = errors.New("engine: not running")
	ErrStopping    = errors.New("engine: shutting down")
	ErrQueueFull   = errors.New("engine: queue full")
	ErrOverlapSkip = errors.New("engine: previous run still active")
)

// Final wraps err so the worker gives up after the current attempt. The
// recorded failure is err itself.
func Final(err error) error {
	if err == nil {
		return nil
	}
	return &finalError{err}
}

type finalError struct{ err error }

func (e *finalError) Error() string   { return e.err.Error() }
func (e *finalError) Unwrap() error   { return e.err }
func (e *finalError) Permanent() bool { return true }

// permanent is implemented by errors that retrying cannot fix, such as a
// chat platform refusing a deleted channel.
type permanent interface{ Permanent() bool }

func isFinal(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// Backoff wraps err with the delay a server asked for, e.g. a rate limit
// reset. The worker waits that long, capped at RetryMaxDelay.
func Backoff(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &backoffError{err: err, after: max(after, 0)}
}

type backoffError struct {
	err   error
	after time.Duration
}

func (e *backoffError) Error() string             { return e.err.Error() }
func (e *backoffError) Unwrap() error             { return e.err }
func (e *backoffError) RetryAfter() time.Duration { return e.after }

func retryHint(err error) (time.Duration, bool) {
	var h interface{ RetryAfter() time.Duration }
	if errors.As(err, &h) {
		return h.RetryAfter(), true
	}
	return 0, false
}
