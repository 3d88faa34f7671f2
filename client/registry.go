// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Registry stores one Session per remote address for the lifetime of the
// owning factory. With a capacity of 0 entries are never evicted; with a
// positive capacity the least recently bound session is dropped when a new
// address no longer fits.
type Registry struct {
	mu       sync.Mutex
	logger   *slog.Logger
	sessions map[Address]*Session
	bounded  *lru.Cache[Address, *Session]
}

// NewRegistry creates a session registry. capacity <= 0 means unbounded.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	if capacity <= 0 {
		r.sessions = make(map[Address]*Session)
		return r
	}

	// lru.NewWithEvict only fails on a non-positive size.
	r.bounded, _ = lru.NewWithEvict(capacity, r.evicted)
	return r
}

func (r *Registry) evicted(addr Address, s *Session) {
	st := s.Stats()
	r.logger.Warn("Session evicted",
		slog.String("remote_addr", addr.String()),
		slog.Int("pending", st.Pending),
		slog.Int("inflight", st.InFlight()))
}

// Bind returns the session for addr, creating an empty one on first use.
// The second value reports whether the session was created.
func (r *Registry) Bind(addr Address) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bounded != nil {
		if s, ok := r.bounded.Get(addr); ok {
			return s, false
		}
		s := newSession(addr)
		r.bounded.Add(addr, s)
		return s, true
	}

	if s, ok := r.sessions[addr]; ok {
		return s, false
	}
	s := newSession(addr)
	r.sessions[addr] = s
	return s, true
}

// Lookup returns the session for addr without creating one.
func (r *Registry) Lookup(addr Address) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bounded != nil {
		return r.bounded.Peek(addr)
	}
	s, ok := r.sessions[addr]
	return s, ok
}

// Len returns the number of stored sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bounded != nil {
		return r.bounded.Len()
	}
	return len(r.sessions)
}

// Addresses returns the addresses with stored sessions.
func (r *Registry) Addresses() []Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bounded != nil {
		return r.bounded.Keys()
	}
	addrs := make([]Address, 0, len(r.sessions))
	for addr := range r.sessions {
		addrs = append(addrs, addr)
	}
	return addrs
}
