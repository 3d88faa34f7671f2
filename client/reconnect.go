// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reconnection defaults.
const (
	DefaultReconnectInitial = 1 * time.Second
	DefaultReconnectFactor  = 2.0
	DefaultReconnectMax     = 2 * time.Hour
)

// ReconnectConfig configures a Reconnector.
type ReconnectConfig struct {
	Initial    time.Duration // Delay after the first failure
	Factor     float64       // Multiplier applied on every further failure
	Max        time.Duration // Delay ceiling
	MaxRetries int           // Consecutive failures before giving up (0 = never)
	Clock      clockwork.Clock
}

// Reconnector is the exponential backoff state machine that decides when a
// dropped or failed connection is retried. Failure causes are not
// distinguished.
//
//	Idle|Connected --Failed--> Reconnecting(initial)
//	Reconnecting(d) --Failed--> Reconnecting(min(d*factor, max))
//	Idle|Reconnecting --Connected--> Connected
//	any --Stop--> Stopped
type Reconnector struct {
	mu sync.Mutex

	state      State
	initial    time.Duration
	max        time.Duration
	factor     float64
	maxRetries int
	delay      time.Duration
	attempts   int

	clock clockwork.Clock
	timer clockwork.Timer
	// gen invalidates timers that fire after being replaced or stopped.
	gen uint64
}

// NewReconnector creates a Reconnector in the Idle state. Zero values in
// cfg are replaced by the defaults.
func NewReconnector(cfg ReconnectConfig) *Reconnector {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultReconnectInitial
	}
	if cfg.Factor < 1 {
		cfg.Factor = DefaultReconnectFactor
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultReconnectMax
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Reconnector{
		state:      StateIdle,
		initial:    cfg.Initial,
		max:        cfg.Max,
		factor:     cfg.Factor,
		maxRetries: cfg.MaxRetries,
		delay:      cfg.Initial,
		clock:      cfg.Clock,
	}
}

// State returns the current state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Delay returns the current retry delay.
func (r *Reconnector) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

// Attempts returns the number of failures since the last success.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Connected records a successful handshake and resets the backoff.
// It returns false once the Reconnector is stopped.
func (r *Reconnector) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateStopped {
		return false
	}
	r.state = StateConnected
	r.delay = r.initial
	r.attempts = 0
	r.cancelLocked()
	return true
}

// Failed records a lost or failed connection and returns the delay to wait
// before the next attempt. It returns false when no retry should happen.
func (r *Reconnector) Failed() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateStopped:
		return 0, false
	case StateReconnecting:
		next := time.Duration(float64(r.delay) * r.factor)
		if next > r.max || next < r.delay {
			next = r.max
		}
		r.delay = next
	default:
		r.delay = r.initial
	}

	r.state = StateReconnecting
	r.attempts++

	if r.maxRetries > 0 && r.attempts > r.maxRetries {
		r.state = StateStopped
		r.cancelLocked()
		return 0, false
	}
	return r.delay, true
}

// Schedule runs fn once after the current delay. A previously scheduled
// call is cancelled. It returns false if the Reconnector is stopped.
func (r *Reconnector) Schedule(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateStopped {
		return false
	}
	r.cancelLocked()

	gen := r.gen
	r.timer = r.clock.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if r.state == StateStopped || r.gen != gen {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		fn()
	})
	return true
}

// Pending reports whether a retry is scheduled.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Stop moves to the terminal Stopped state and cancels any scheduled retry.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateStopped
	r.cancelLocked()
}

func (r *Reconnector) cancelLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
