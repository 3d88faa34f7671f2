// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"sync"
	"time"
)

// Version is the library version logged when a factory is created.
const Version = "0.1.0"

// Connector is the connection-management collaborator. Connect starts a new
// connection attempt without blocking; the outcome is reported back through
// the factory.
type Connector interface {
	Connect()
}

// Observer receives informational events. Implementations must not block.
type Observer interface {
	SessionBound(addr Address, created bool, stats SessionStats)
	ReconnectScheduled(attempt int, delay time.Duration)
	ConnectionFailed(reason error)
}

type noopObserver struct{}

func (noopObserver) SessionBound(Address, bool, SessionStats) {}
func (noopObserver) ReconnectScheduled(int, time.Duration) {}
func (noopObserver) ConnectionFailed(error) {}

// Factory builds a protocol handler for every connection attempt and keeps
// the state that must survive between them: the packet ID allocator, the
// per-address sessions and the reconnection backoff.
type Factory struct {
	role       Role
	newHandler HandlerConstructor
	onMessage  func(*Message)

	ids       *PacketIDs
	sessions  *Registry
	reconnect *Reconnector
	observer  Observer
	logger    *slog.Logger

	mu   sync.Mutex
	addr Address
}

// NewFactory creates a factory. An unsupported role yields a
// ConfigurationError.
func NewFactory(opts *Options) (*Factory, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	newHandler, err := Resolve(opts.Role)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	f := &Factory{
		role:       opts.Role,
		newHandler: newHandler,
		onMessage:  opts.OnMessage,
		ids:        &PacketIDs{},
		sessions:   NewRegistry(opts.MaxSessions, logger),
		reconnect: NewReconnector(ReconnectConfig{
			Initial:    opts.ReconnectInitial,
			Factor:     opts.ReconnectFactor,
			Max:        opts.ReconnectMax,
			MaxRetries: opts.MaxRetries,
			Clock:      opts.Clock,
		}),
		observer: observer,
		logger:   logger,
	}

	logger.Info("MQTT client library", slog.String("version", Version), slog.String("role", f.role.String()))
	return f, nil
}

// Role returns the configured role.
func (f *Factory) Role() Role {
	return f.role
}

// State returns the reconnection state.
func (f *Factory) State() State {
	return f.reconnect.State()
}

// Reconnector exposes the backoff state machine.
func (f *Factory) Reconnector() *Reconnector {
	return f.reconnect
}

// NextPacketID allocates a packet ID from the factory-wide allocator.
func (f *Factory) NextPacketID() uint16 {
	return f.ids.Next()
}

// Session returns the stored session for addr, if any.
func (f *Factory) Session(addr Address) (*Session, bool) {
	return f.sessions.Lookup(addr)
}

// Sessions returns the session registry.
func (f *Factory) Sessions() *Registry {
	return f.sessions
}

// Address returns the address of the most recent connection attempt.
func (f *Factory) Address() Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

// CreateHandler binds the session for addr and builds a handler for it.
func (f *Factory) CreateHandler(addr Address) (ProtocolHandler, error) {
	if f.reconnect.State() == StateStopped {
		return nil, ErrFactoryStopped
	}

	f.mu.Lock()
	f.addr = addr
	f.mu.Unlock()

	s, created := f.sessions.Bind(addr)
	st := s.Stats()
	f.logger.Debug("Session bound",
		slog.String("remote_addr", addr.String()),
		slog.Bool("created", created),
		slog.Int("pending", st.Pending),
		slog.Int("qos1_window", st.QoS1),
		slog.Int("release_window", st.Release),
		slog.Int("receive_window", st.Receive))
	f.observer.SessionBound(addr, created, st)

	return f.newHandler(HandlerEnv{
		Role:      f.role,
		Address:   addr,
		NextID:    f.ids.Next,
		Session:   s,
		Logger:    f.logger.With(slog.String("remote_addr", addr.String())),
		OnMessage: f.onMessage,
	}), nil
}

// HandshakeComplete records a successful connection and resets the backoff.
func (f *Factory) HandshakeComplete() {
	if f.reconnect.Connected() {
		f.logger.Info("Connected", slog.String("remote_addr", f.Address().String()))
	}
}

// ConnectionLost handles the loss of an established connection.
func (f *Factory) ConnectionLost(c Connector, reason error) {
	f.logger.Warn("Lost connection", slog.String("reason", errString(reason)))
	f.retry(c, reason)
}

// ConnectionFailed handles a connection attempt that did not succeed.
func (f *Factory) ConnectionFailed(c Connector, reason error) {
	f.logger.Warn("Connection failed", slog.String("reason", errString(reason)))
	f.retry(c, reason)
}

func (f *Factory) retry(c Connector, reason error) {
	f.observer.ConnectionFailed(reason)

	delay, ok := f.reconnect.Failed()
	if !ok {
		f.logger.Info("Not retrying", slog.String("state", f.reconnect.State().String()))
		return
	}
	if c == nil || !f.reconnect.Schedule(c.Connect) {
		return
	}

	attempt := f.reconnect.Attempts()
	f.logger.Info("Will retry",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))
	f.observer.ReconnectScheduled(attempt, delay)
}

// Stop stops reconnecting and cancels a scheduled retry. It is terminal.
func (f *Factory) Stop() {
	f.reconnect.Stop()
	f.logger.Info("Stopped reconnecting")
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
