// Package resilience provides the circuit breaker the agent pool uses to
// decide when a misbehaving agent instance should stop receiving work and,
// later, when it is safe to try it again. It is a trimmed adaptation of the
// sliding-window breaker the teacher framework ships for outbound calls,
// retargeted at in-process agent instances instead of HTTP dependencies.
package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is the circuit breaker's state machine position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Execute when the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// Config tunes a CircuitBreaker.
type Config struct {
	Name             string
	ErrorThreshold   float64       // error rate that trips the breaker, e.g. 0.5
	VolumeThreshold  int           // minimum samples before the rate is evaluated
	SleepWindow      time.Duration // how long to stay open before probing half-open; zero stays open until Reset
	HalfOpenRequests int           // probes allowed while half-open
	SuccessThreshold float64       // success rate among probes needed to close
	OnStateChange    func(name string, from, to State)
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  5,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
	}
}

// CircuitBreaker tracks one agent instance's (or one downstream call's)
// recent success/failure history and trips open when it is unhealthy.
// Unlike a plain HTTP circuit breaker, Trip is also called directly by the
// agent pool's heartbeat scan -- a missed heartbeat opens the circuit even
// without a failed Execute call, matching spec.md's "sticky until explicit
// recovery" rule for AgentInstance.Status = error.
type CircuitBreaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	openedAt       time.Time
	successes      int
	failures       int
	halfOpenProbes int
	halfOpenOK     int
	halfOpenFail   int

	totalExecutions atomic.Uint64
	rejected        atomic.Uint64
}

func New(cfg Config) *CircuitBreaker {
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = 5
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed right now, transitioning
// open -> half-open once a non-zero SleepWindow has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.cfg.SleepWindow > 0 && time.Since(cb.openedAt) >= cb.cfg.SleepWindow {
			cb.transition(StateHalfOpen)
			cb.halfOpenProbes, cb.halfOpenOK, cb.halfOpenFail = 0, 0, 0
			return true
		}
		cb.rejected.Add(1)
		return false
	case StateHalfOpen:
		if cb.halfOpenProbes >= cb.cfg.HalfOpenRequests {
			cb.rejected.Add(1)
			return false
		}
		cb.halfOpenProbes++
		return true
	default:
		return true
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrOpen
	}
	cb.totalExecutions.Add(1)
	err := fn(ctx)
	cb.Record(err == nil)
	return err
}

// Record reports a call outcome observed outside Execute (e.g. the agent
// pool recording a task_execution result that came back over Transport).
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		if success {
			cb.halfOpenOK++
		} else {
			cb.halfOpenFail++
		}
		total := cb.halfOpenOK + cb.halfOpenFail
		if total >= cb.cfg.HalfOpenRequests {
			if float64(cb.halfOpenOK)/float64(total) >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed)
				cb.successes, cb.failures = 0, 0
			} else {
				cb.transition(StateOpen)
				cb.openedAt = time.Now()
			}
		}
	default:
		if success {
			cb.successes++
		} else {
			cb.failures++
		}
		total := cb.successes + cb.failures
		if total >= cb.cfg.VolumeThreshold {
			rate := float64(cb.failures) / float64(total)
			if rate >= cb.cfg.ErrorThreshold {
				cb.transition(StateOpen)
				cb.openedAt = time.Now()
			}
		}
	}
}

// Trip forces the breaker open immediately -- used when the agent pool's
// heartbeat scan declares an instance dead rather than waiting for the
// error-rate window to accumulate enough samples.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateOpen)
	cb.openedAt = time.Now()
}

// Reset forces the breaker closed -- the explicit recovery action spec.md
// requires before a sticky "error" AgentInstance can be reused.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.successes, cb.failures = 0, 0
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
