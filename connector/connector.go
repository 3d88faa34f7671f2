// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package connector drives TCP connections for a client.Factory. Every
// attempt gets a fresh protocol handler; lost or failed attempts are
// reported back so the factory can schedule the retry.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/mqttfactory/client"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	protocolName    = "MQTT"
	protocolVersion = 4

	defaultConnectTimeout = 10 * time.Second
	writeTimeout          = 5 * time.Second
)

// Dialer opens the transport connection.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds the transport settings of a Connector.
type Config struct {
	Address client.Address

	ClientID string // Generated when empty
	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// Topics are subscribed after every successful handshake.
	Topics       []string
	SubscribeQoS byte

	// PublishRate paces Publish in messages per second (0 = unlimited).
	PublishRate  float64
	PublishBurst int

	Dialer Dialer
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Connector implements client.Connector over a stream transport.
type Connector struct {
	factory  *client.Factory
	cfg      Config
	clientID string
	dialer   Dialer
	clock    clockwork.Clock
	limiter  *rate.Limiter
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    net.Conn
	handler client.ProtocolHandler
	up      bool
}

var _ client.Connector = (*Connector)(nil)

// New creates a connector for factory. Nothing is dialed until Connect.
func New(factory *client.Factory, cfg Config) (*Connector, error) {
	if factory == nil {
		return nil, &client.ConfigurationError{Field: "factory", Value: nil, Err: client.ErrInvalidOptions}
	}
	if cfg.Address.Host == "" && cfg.Address.Network != "unix" {
		return nil, &client.ConfigurationError{Field: "address", Value: cfg.Address.String(), Err: client.ErrInvalidOptions}
	}
	if cfg.KeepAlive < 0 || cfg.KeepAlive > 65535*time.Second {
		return nil, &client.ConfigurationError{Field: "keep_alive", Value: cfg.KeepAlive, Err: client.ErrInvalidOptions}
	}
	if cfg.SubscribeQoS > 2 {
		return nil, &client.ConfigurationError{Field: "subscribe_qos", Value: cfg.SubscribeQoS, Err: client.ErrInvalidQoS}
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: cfg.ConnectTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.PublishRate > 0 {
		burst := max(cfg.PublishBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.PublishRate), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		factory:  factory,
		cfg:      cfg,
		clientID: clientID,
		dialer:   dialer,
		clock:    clock,
		limiter:  limiter,
		logger:   logger.With(slog.String("client_id", clientID)),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ClientID returns the identifier sent in CONNECT.
func (c *Connector) ClientID() string {
	return c.clientID
}

// Connected reports whether a handshake has completed on the current
// connection.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

// Connect starts a connection attempt in the background.
func (c *Connector) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
}

func (c *Connector) run() {
	addr := c.cfg.Address

	h, err := c.factory.CreateHandler(addr)
	if err != nil {
		// Stopped or misconfigured factories never retry.
		if errors.Is(err, client.ErrFactoryStopped) || client.IsConfigurationError(err) {
			c.logger.Info("Connection attempt aborted", slog.String("error", err.Error()))
			return
		}
		c.factory.ConnectionFailed(c, err)
		return
	}

	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	conn, err := c.dial(addr)
	if err != nil {
		c.failed(err)
		return
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.handshake(conn); err != nil {
		c.release(conn)
		c.failed(err)
		return
	}

	c.mu.Lock()
	c.up = true
	c.mu.Unlock()

	c.factory.HandshakeComplete()

	w := &connWriter{conn: conn}
	if err := h.Attach(w); err != nil {
		c.lost(conn, h, err)
		return
	}
	c.subscribe(h)

	stop := make(chan struct{})
	if c.cfg.KeepAlive > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.keepAlive(w, stop)
		}()
	}

	err = c.readLoop(conn, h)
	close(stop)
	c.lost(conn, h, err)
}

func (c *Connector) dial(addr client.Address) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, addr.Network, addr.HostPort())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrConnectionFailed, err)
	}
	return conn, nil
}

func (c *Connector) handshake(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	defer conn.SetDeadline(time.Time{})

	pkt := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	pkt.ProtocolName = protocolName
	pkt.ProtocolVersion = protocolVersion
	// Session state lives in the factory; the broker must keep its half.
	pkt.CleanSession = false
	pkt.ClientIdentifier = c.clientID
	pkt.Keepalive = uint16(c.cfg.KeepAlive / time.Second)
	if c.cfg.Username != "" {
		pkt.UsernameFlag = true
		pkt.Username = c.cfg.Username
	}
	if c.cfg.Password != "" {
		pkt.PasswordFlag = true
		pkt.Password = []byte(c.cfg.Password)
	}
	if err := pkt.Write(conn); err != nil {
		return fmt.Errorf("%w: %v", client.ErrConnectionFailed, err)
	}

	resp, err := packets.ReadPacket(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", client.ErrConnectionFailed, err)
	}
	ack, ok := resp.(*packets.ConnackPacket)
	if !ok {
		return fmt.Errorf("%w: expected CONNACK, got %s", client.ErrUnexpectedPacket, resp.String())
	}
	if ack.ReturnCode != packets.Accepted {
		return fmt.Errorf("%w: %s", client.ErrConnectionFailed, connackReason(ack.ReturnCode))
	}

	c.logger.Debug("CONNACK received", slog.Bool("session_present", ack.SessionPresent))
	return nil
}

func connackReason(code byte) string {
	if reason, ok := packets.ConnackReturnCodes[code]; ok {
		return reason
	}
	return fmt.Sprintf("return code %d", code)
}

func (c *Connector) subscribe(h client.ProtocolHandler) {
	if !h.Role().Has(client.RoleSubscriber) {
		return
	}
	for _, topic := range c.cfg.Topics {
		id, err := h.Subscribe(topic, c.cfg.SubscribeQoS)
		if err != nil {
			c.logger.Warn("Subscribe failed", slog.String("topic", topic), slog.String("error", err.Error()))
			continue
		}
		c.logger.Debug("Subscribe sent", slog.String("topic", topic), slog.Int("packet_id", int(id)))
	}
}

// readLoop reads packets until the connection fails.
func (c *Connector) readLoop(conn net.Conn, h client.ProtocolHandler) error {
	for {
		pkt, err := packets.ReadPacket(conn)
		if err != nil {
			return err
		}
		if err := h.HandlePacket(pkt); err != nil {
			if errors.Is(err, client.ErrNotAttached) {
				return err
			}
			c.logger.Warn("Packet handling failed",
				slog.String("packet", pkt.String()),
				slog.Int("packet_id", int(pkt.Details().MessageID)),
				slog.String("error", err.Error()))
		}
	}
}

// keepAlive sends PINGREQ every interval until stop is closed.
func (c *Connector) keepAlive(w io.Writer, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			ping := packets.NewControlPacket(packets.Pingreq)
			if err := ping.Write(w); err != nil {
				c.logger.Debug("PINGREQ failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (c *Connector) failed(err error) {
	if c.ctx.Err() != nil {
		return
	}
	c.factory.ConnectionFailed(c, err)
}

func (c *Connector) lost(conn net.Conn, h client.ProtocolHandler, err error) {
	h.Detach()
	c.release(conn)

	if c.ctx.Err() != nil {
		return
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = client.ErrConnectionLost
	}
	c.factory.ConnectionLost(c, err)
}

func (c *Connector) release(conn net.Conn) {
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.up = false
	}
}

// Publish waits for the publish rate limiter and hands msg to the current
// handler. Messages published while disconnected stay queued in the session.
func (c *Connector) Publish(ctx context.Context, msg *client.Message) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		return h.Publish(msg)
	}

	// No attempt has built a handler yet: queue on the session the first
	// handler will bind.
	if !c.factory.Role().Has(client.RolePublisher) {
		return client.ErrRoleNotSupported
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	s, _ := c.factory.Sessions().Bind(c.cfg.Address)
	s.Pending.Push(msg)
	return nil
}

// Subscribe sends a SUBSCRIBE on the current connection.
func (c *Connector) Subscribe(topic string, qos byte) (uint16, error) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return 0, client.ErrNotAttached
	}
	return h.Subscribe(topic, qos)
}

// Close stops the factory, sends DISCONNECT on a live connection and waits
// for background goroutines to exit.
func (c *Connector) Close() error {
	c.factory.Stop()

	c.mu.Lock()
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.up = false
	c.mu.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = packets.NewControlPacket(packets.Disconnect).Write(conn)
		conn.Close()
	}

	c.wg.Wait()
	return nil
}

// connWriter serializes writes from the handler and the keep-alive loop.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.Write(p)
}
