package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/GNS3/vboxwrapper/pkg/log"
	"github.com/GNS3/vboxwrapper/pkg/metrics"
)

// Policy is a bounded, fixed-delay retry policy. The hypervisor API fails
// transiently on slow or loaded hosts, so every backend call runs under a
// policy tuned for that operation.
type Policy struct {
	// Attempts is the total number of tries, including the first
	Attempts int
	// Delay is the fixed pause between tries
	Delay time.Duration
}

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Policy.Do aborts instead of retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, or the attempt
// budget is exhausted. op names the backend operation for logs and metrics.
func (p Policy) Do(op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			var perm *permanentError
			errors.As(err, &perm)
			return perm.err
		}
		if attempt == attempts {
			break
		}
		metrics.BackendRetriesTotal.WithLabelValues(op).Inc()
		log.Logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Msg("backend call failed, retrying")
		time.Sleep(p.Delay)
	}

	log.Logger.Error().
		Err(err).
		Str("operation", op).
		Int("attempts", attempts).
		Msg("backend call failed, budget exhausted")
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}
