// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog handlers used by the client binary.
package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/absmach/mqttfactory/config"
)

// Level converts a configured level name to a slog level.
func Level(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns a text or JSON handler writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: Level(level)}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

type entry struct {
	ctx context.Context
	h   slog.Handler
	rec slog.Record
}

type sink struct {
	// mu orders sends against Close; closed is set once the queue is closed.
	mu      sync.RWMutex
	closed  bool
	queue   chan entry
	dropped atomic.Uint64
	done    chan struct{}
}

// Async is a slog.Handler that hands records to a background goroutine.
// When the buffer is full the record is dropped, so a slow or stalled
// writer never blocks the caller.
type Async struct {
	next slog.Handler
	sink *sink
}

// NonBlocking wraps next behind a buffer of size records. Close must be
// called to flush and stop the background goroutine.
func NonBlocking(next slog.Handler, size int) *Async {
	if size < 1 {
		size = 1
	}
	s := &sink{
		queue: make(chan entry, size),
		done:  make(chan struct{}),
	}
	go s.run()
	return &Async{next: next, sink: s}
}

func (s *sink) run() {
	defer close(s.done)
	for e := range s.queue {
		_ = e.h.Handle(e.ctx, e.rec)
	}
}

// Enabled reports whether the wrapped handler handles level.
func (a *Async) Enabled(ctx context.Context, level slog.Level) bool {
	return a.next.Enabled(ctx, level)
}

// Handle queues the record. It never blocks and never fails.
func (a *Async) Handle(ctx context.Context, r slog.Record) error {
	e := entry{ctx: context.WithoutCancel(ctx), h: a.next, rec: r.Clone()}
	a.sink.mu.RLock()
	defer a.sink.mu.RUnlock()
	if a.sink.closed {
		a.sink.dropped.Add(1)
		return nil
	}
	select {
	case a.sink.queue <- e:
	default:
		a.sink.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same buffer.
func (a *Async) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Async{next: a.next.WithAttrs(attrs), sink: a.sink}
}

// WithGroup returns a handler sharing the same buffer.
func (a *Async) WithGroup(name string) slog.Handler {
	return &Async{next: a.next.WithGroup(name), sink: a.sink}
}

// Dropped returns the number of records discarded because the buffer was
// full or the handler was closed.
func (a *Async) Dropped() uint64 {
	return a.sink.dropped.Load()
}

// Close drains buffered records and stops the background goroutine.
func (a *Async) Close() {
	a.sink.mu.Lock()
	if !a.sink.closed {
		a.sink.closed = true
		close(a.sink.queue)
	}
	a.sink.mu.Unlock()
	<-a.sink.done
}

// New builds the process logger from cfg. The returned function flushes
// buffered records and must be called on shutdown.
func New(w io.Writer, cfg config.LogConfig) (*slog.Logger, func()) {
	h := NewHandler(w, cfg.Level, cfg.Format)
	if cfg.Buffer <= 0 {
		return slog.New(h), func() {}
	}
	async := NonBlocking(h, cfg.Buffer)
	return slog.New(async), async.Close
}
