// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/mqttfactory/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Level(tt.name), tt.name)
	}
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "info", "json")).Info("hello", "k", "v")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "json output expected, got %q", buf.String())

	buf.Reset()
	slog.New(NewHandler(&buf, "info", "text")).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	slog.New(NewHandler(&buf, "warn", "text")).Info("hidden")
	assert.Empty(t, buf.String())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNonBlockingDelivers(t *testing.T) {
	out := &lockedBuffer{}
	h := NonBlocking(NewHandler(out, "debug", "text"), 16)
	logger := slog.New(h).With("remote_addr", "tcp://a:1883")

	logger.Info("bound", "pending", 2)
	h.Close()

	assert.Contains(t, out.String(), "msg=bound")
	assert.Contains(t, out.String(), "remote_addr=tcp://a:1883")
	assert.Contains(t, out.String(), "pending=2")
	assert.Equal(t, uint64(0), h.Dropped())
}

// blockingHandler stalls until released.
type blockingHandler struct {
	release chan struct{}
	mu      sync.Mutex
	handled int
}

func (b *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (b *blockingHandler) Handle(context.Context, slog.Record) error {
	<-b.release
	b.mu.Lock()
	b.handled++
	b.mu.Unlock()
	return nil
}

func (b *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *blockingHandler) WithGroup(string) slog.Handler      { return b }

func TestNonBlockingDropsWhenFull(t *testing.T) {
	stall := &blockingHandler{release: make(chan struct{})}
	h := NonBlocking(stall, 2)
	logger := slog.New(h)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			logger.Info("event")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("logging blocked on a stalled handler")
	}

	assert.Greater(t, h.Dropped(), uint64(0))
	close(stall.release)
	h.Close()

	stall.mu.Lock()
	defer stall.mu.Unlock()
	require.LessOrEqual(t, stall.handled, 3)
	assert.Equal(t, uint64(50), h.Dropped()+uint64(stall.handled))
}

func TestNonBlockingAfterClose(t *testing.T) {
	h := NonBlocking(NewHandler(&lockedBuffer{}, "info", "text"), 4)
	h.Close()
	h.Close()

	slog.New(h).Info("late")
	assert.Equal(t, uint64(1), h.Dropped())
}

// countingHandler counts handled records.
type countingHandler struct {
	handled atomic.Uint64
}

func (c *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (c *countingHandler) Handle(context.Context, slog.Record) error {
	c.handled.Add(1)
	return nil
}

func (c *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *countingHandler) WithGroup(string) slog.Handler      { return c }

func TestNonBlockingCloseWhileLogging(t *testing.T) {
	const writers, perWriter = 8, 200
	next := &countingHandler{}
	h := NonBlocking(next, 4)
	logger := slog.New(h)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWriter; j++ {
				logger.Info("event")
			}
		}()
	}
	close(start)
	h.Close()
	wg.Wait()

	assert.Equal(t, uint64(writers*perWriter), h.Dropped()+next.handled.Load())
}

func TestNew(t *testing.T) {
	out := &lockedBuffer{}
	logger, closeFn := New(out, config.LogConfig{Level: "debug", Format: "text"})
	logger.Debug("sync")
	closeFn()
	assert.Contains(t, out.String(), "msg=sync")

	out = &lockedBuffer{}
	logger, closeFn = New(out, config.LogConfig{Level: "info", Format: "json", Buffer: 8})
	logger.Info("buffered")
	logger.Debug("filtered")
	closeFn()
	assert.Contains(t, out.String(), `"msg":"buffered"`)
	assert.NotContains(t, out.String(), "filtered")
}
