// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Options configures a Factory.
type Options struct {
	// Role
	Role Role // Subscriber, publisher or both

	// Reconnection
	ReconnectInitial time.Duration // Delay before the first retry
	ReconnectFactor  float64       // Backoff multiplier
	ReconnectMax     time.Duration // Backoff ceiling
	MaxRetries       int           // Consecutive failures before giving up (0 = retry forever)

	// Session
	MaxSessions int // Sessions kept by the registry (0 = unbounded)

	// Callbacks
	OnMessage func(*Message) // Called for inbound application messages

	// Collaborators
	Logger   *slog.Logger
	Observer Observer
	Clock    clockwork.Clock
}

// NewOptions creates Options with the default backoff policy.
func NewOptions() *Options {
	return &Options{
		Role:             RolePubSub,
		ReconnectInitial: DefaultReconnectInitial,
		ReconnectFactor:  DefaultReconnectFactor,
		ReconnectMax:     DefaultReconnectMax,
	}
}

// SetRole sets the handler role.
func (o *Options) SetRole(r Role) *Options {
	o.Role = r
	return o
}

// SetReconnectBackoff sets the initial delay, multiplier and ceiling.
func (o *Options) SetReconnectBackoff(initial time.Duration, factor float64, max time.Duration) *Options {
	o.ReconnectInitial = initial
	o.ReconnectFactor = factor
	o.ReconnectMax = max
	return o
}

// SetMaxRetries sets how many consecutive failures are retried.
func (o *Options) SetMaxRetries(n int) *Options {
	o.MaxRetries = n
	return o
}

// SetMaxSessions bounds the number of sessions kept.
func (o *Options) SetMaxSessions(n int) *Options {
	o.MaxSessions = n
	return o
}

// SetOnMessage sets the inbound message callback.
func (o *Options) SetOnMessage(fn func(*Message)) *Options {
	o.OnMessage = fn
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// SetObserver sets the observer notified of session and reconnect events.
func (o *Options) SetObserver(obs Observer) *Options {
	o.Observer = obs
	return o
}

// SetClock sets the clock used for retry timers.
func (o *Options) SetClock(c clockwork.Clock) *Options {
	o.Clock = c
	return o
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if o.ReconnectInitial < 0 {
		return &ConfigurationError{Field: "reconnect_initial", Value: o.ReconnectInitial, Err: ErrInvalidOptions}
	}
	if o.ReconnectFactor != 0 && o.ReconnectFactor < 1 {
		return &ConfigurationError{Field: "reconnect_factor", Value: o.ReconnectFactor, Err: ErrInvalidOptions}
	}
	if o.ReconnectMax < 0 {
		return &ConfigurationError{Field: "reconnect_max", Value: o.ReconnectMax, Err: ErrInvalidOptions}
	}
	if o.ReconnectMax > 0 && o.ReconnectInitial > o.ReconnectMax {
		return &ConfigurationError{Field: "reconnect_max", Value: o.ReconnectMax, Err: ErrInvalidOptions}
	}
	if o.MaxRetries < 0 {
		return &ConfigurationError{Field: "max_retries", Value: o.MaxRetries, Err: ErrInvalidOptions}
	}
	if o.MaxSessions < 0 {
		return &ConfigurationError{Field: "max_sessions", Value: o.MaxSessions, Err: ErrInvalidOptions}
	}
	return nil
}
