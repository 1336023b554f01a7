// Package breaker implements a circuit breaker for guarding calls to a
// failing dependency. One breaker instance guards one dependency class
// (all database calls, all cache calls, ...); instances are independent.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the current mode of a breaker.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned when a call is rejected because the breaker is
// open. The wrapped function is not invoked.
var ErrOpen = errors.New("circuit breaker is open")

// Settings are the tuning parameters for a breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before the next
	// call probes the dependency (checked lazily, no timer).
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker again.
	SuccessThreshold int
}

// Breaker wraps an operation with failure-threshold tripping and timed
// recovery probing. Safe for concurrent use.
type Breaker struct {
	name     string
	settings Settings

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
}

// New creates a breaker. Zero or negative settings fall back to
// threshold 5, timeout 30s, success threshold 2.
func New(name string, s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	return &Breaker{name: name, settings: s, state: Closed}
}

// Do runs op under the breaker. While open, calls are rejected with an
// error wrapping ErrOpen and op is never invoked. The first call after
// ResetTimeout has elapsed transitions to half-open and is attempted.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := op(ctx)
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if time.Since(b.lastFailure) < b.settings.ResetTimeout {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		log.Printf("[Breaker] %s: open -> half_open", b.name)
		b.state = HalfOpen
		b.successCount = 0
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failureCount++
		b.lastFailure = time.Now()

		switch b.state {
		case Closed:
			if b.failureCount >= b.settings.FailureThreshold {
				log.Printf("[Breaker] %s: closed -> open after %d failures", b.name, b.failureCount)
				b.state = Open
			}
		case HalfOpen:
			log.Printf("[Breaker] %s: half_open -> open", b.name)
			b.state = Open
		}
		return
	}

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.settings.SuccessThreshold {
			log.Printf("[Breaker] %s: half_open -> closed", b.name)
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	case Closed:
		b.failureCount = 0
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker's identifier.
func (b *Breaker) Name() string { return b.name }

// Stats returns a snapshot for health endpoints.
func (b *Breaker) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastFailure string
	if !b.lastFailure.IsZero() {
		lastFailure = b.lastFailure.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"name":          b.name,
		"state":         string(b.state),
		"failure_count": b.failureCount,
		"success_count": b.successCount,
		"last_failure":  lastFailure,
	}
}

// ForceOpen trips the breaker, useful for maintenance windows.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		log.Printf("[Breaker] %s: forced open", b.name)
		b.state = Open
		b.lastFailure = time.Now()
	}
}

// ForceClose resets the breaker to closed.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		log.Printf("[Breaker] %s: forced closed", b.name)
	}
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
}
