// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/absmach/mqttfactory/topics"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// maxIDAttempts bounds the search for a packet ID not already in flight.
const maxIDAttempts = 1 << 16

// ProtocolHandler drives the MQTT exchange for a single connection using the
// session state of its remote address.
type ProtocolHandler interface {
	Role() Role
	Address() Address
	Session() *Session

	// Attach binds the handler to a live connection. In-flight messages are
	// retransmitted and the pending queue is flushed.
	Attach(w io.Writer) error
	// Detach releases the connection. Session state is left untouched.
	Detach()
	// HandlePacket processes one inbound packet. An inbound QoS 2 PUBLISH
	// whose ID is held by an outbound message in the QoS1 window is refused
	// with ErrPacketIDInUse and no PUBREC is sent, so the broker redelivers
	// it only after the next reconnect.
	HandlePacket(pkt packets.ControlPacket) error

	// Publish queues msg for transmission and sends it when attached.
	Publish(msg *Message) error
	// Subscribe sends a SUBSCRIBE and returns its packet ID.
	Subscribe(topic string, qos byte) (uint16, error)
}

type handler struct {
	env    HandlerEnv
	logger *slog.Logger

	mu   sync.Mutex
	w    io.Writer
	subs map[uint16]string
}

func newSubscriberHandler(env HandlerEnv) ProtocolHandler {
	env.Role = RoleSubscriber
	return newHandler(env)
}

func newPublisherHandler(env HandlerEnv) ProtocolHandler {
	env.Role = RolePublisher
	return newHandler(env)
}

func newPubSubHandler(env HandlerEnv) ProtocolHandler {
	env.Role = RolePubSub
	return newHandler(env)
}

func newHandler(env HandlerEnv) *handler {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &handler{
		env:    env,
		logger: logger.With(slog.String("role", env.Role.String())),
		subs:   make(map[uint16]string),
	}
}

func (h *handler) Role() Role { return h.env.Role }
func (h *handler) Address() Address { return h.env.Address }
func (h *handler) Session() *Session { return h.env.Session }

func (h *handler) Attach(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.w = w
	s := h.env.Session

	for _, msg := range s.QoS1.Messages() {
		msg.Dup = true
		if err := h.writePublish(msg); err != nil {
			return err
		}
	}
	for _, id := range s.Release.IDs() {
		if err := h.writeAck(packets.Pubrel, id); err != nil {
			return err
		}
	}

	return h.flush()
}

func (h *handler) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.w = nil
	clear(h.subs)
}

func (h *handler) Publish(msg *Message) error {
	if !h.env.Role.Has(RolePublisher) {
		return ErrRoleNotSupported
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	h.env.Session.Pending.Push(msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.w == nil {
		return nil
	}
	return h.flush()
}

// flush transmits queued messages. Must be called with h.mu held.
func (h *handler) flush() error {
	s := h.env.Session
	for {
		msg, ok := s.Pending.Pop()
		if !ok {
			return nil
		}

		if msg.QoS == 0 {
			if err := h.writePublish(msg); err != nil {
				s.Pending.PushFront(msg)
				return err
			}
			continue
		}

		id, err := h.track(msg)
		if err != nil {
			s.Pending.PushFront(msg)
			return err
		}
		msg.PacketID = id

		// On failure the message stays in the window and is resent on the
		// next Attach.
		if err := h.writePublish(msg); err != nil {
			return err
		}
	}
}

// track allocates a packet ID for msg and stores it in the QoS1 window.
// Must be called with h.mu held.
func (h *handler) track(msg *Message) (uint16, error) {
	for range maxIDAttempts {
		id := h.env.NextID()
		if _, ok := h.subs[id]; ok {
			continue
		}
		err := h.env.Session.QoS1.Store(id, msg)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrPacketIDInUse) {
			return 0, err
		}
	}
	return 0, ErrPacketIDInUse
}

func (h *handler) Subscribe(topic string, qos byte) (uint16, error) {
	if !h.env.Role.Has(RoleSubscriber) {
		return 0, ErrRoleNotSupported
	}
	if err := topics.ValidateFilter(topic); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > 2 {
		return 0, ErrInvalidQoS
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.w == nil {
		return 0, ErrNotAttached
	}

	id, err := h.subscribeID()
	if err != nil {
		return 0, err
	}
	pkt := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	pkt.MessageID = id
	pkt.Topics = []string{topic}
	pkt.Qoss = []byte{qos}
	if err := pkt.Write(h.w); err != nil {
		return 0, err
	}
	h.subs[id] = topic
	return id, nil
}

// subscribeID allocates an ID not held by an outbound message or by an
// unacknowledged SUBSCRIBE. Must be called with h.mu held.
func (h *handler) subscribeID() (uint16, error) {
	s := h.env.Session
	for range maxIDAttempts {
		id := h.env.NextID()
		if _, ok := h.subs[id]; ok {
			continue
		}
		if s.QoS1.Contains(id) || s.Release.Contains(id) {
			continue
		}
		return id, nil
	}
	return 0, ErrPacketIDInUse
}

func (h *handler) HandlePacket(pkt packets.ControlPacket) error {
	s := h.env.Session

	switch p := pkt.(type) {
	case *packets.PubackPacket:
		if !s.QoS1.Delete(p.MessageID) {
			h.logger.Debug("PUBACK for unknown packet ID", slog.Int("packet_id", int(p.MessageID)))
		}
		return nil

	case *packets.PubrecPacket:
		if !s.Promote(p.MessageID) {
			h.logger.Debug("PUBREC for unknown packet ID", slog.Int("packet_id", int(p.MessageID)))
			return nil
		}
		return h.reply(packets.Pubrel, p.MessageID)

	case *packets.PubcompPacket:
		if !s.Release.Delete(p.MessageID) {
			h.logger.Debug("PUBCOMP for unknown packet ID", slog.Int("packet_id", int(p.MessageID)))
		}
		return nil

	case *packets.PublishPacket:
		return h.handlePublish(p)

	case *packets.PubrelPacket:
		if msg, ok := s.Receive.Take(p.MessageID); ok {
			h.deliver(msg)
		}
		return h.reply(packets.Pubcomp, p.MessageID)

	case *packets.SubackPacket:
		h.mu.Lock()
		topic, ok := h.subs[p.MessageID]
		delete(h.subs, p.MessageID)
		h.mu.Unlock()
		if !ok {
			h.logger.Debug("SUBACK for unknown packet ID", slog.Int("packet_id", int(p.MessageID)))
			return nil
		}
		for _, code := range p.ReturnCodes {
			if code == 0x80 {
				h.logger.Warn("Subscription rejected", slog.String("topic", topic))
				continue
			}
			h.logger.Debug("Subscription granted", slog.String("topic", topic), slog.Int("qos", int(code)))
		}
		return nil

	case *packets.PingrespPacket:
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedPacket, pkt.String())
	}
}

func (h *handler) handlePublish(p *packets.PublishPacket) error {
	if !h.env.Role.Has(RoleSubscriber) {
		return fmt.Errorf("%w: PUBLISH received by %s", ErrUnexpectedPacket, h.env.Role)
	}

	msg := NewMessage(p.TopicName, p.Payload, p.Qos, p.Retain)
	msg.Dup = p.Dup
	msg.PacketID = p.MessageID

	switch p.Qos {
	case 0:
		h.deliver(msg)
		return nil
	case 1:
		h.deliver(msg)
		return h.reply(packets.Puback, p.MessageID)
	case 2:
		if err := h.env.Session.Receive.Store(p.MessageID, msg); err != nil {
			return err
		}
		return h.reply(packets.Pubrec, p.MessageID)
	default:
		return ErrInvalidQoS
	}
}

func (h *handler) deliver(msg *Message) {
	if h.env.OnMessage != nil {
		h.env.OnMessage(msg)
	}
}

func (h *handler) reply(packetType byte, id uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writeAck(packetType, id)
}

// writeAck writes one of PUBACK, PUBREC, PUBREL or PUBCOMP. Must be called
// with h.mu held.
func (h *handler) writeAck(packetType byte, id uint16) error {
	if h.w == nil {
		return ErrNotAttached
	}

	var pkt packets.ControlPacket
	switch packetType {
	case packets.Puback:
		p := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
		p.MessageID = id
		pkt = p
	case packets.Pubrec:
		p := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
		p.MessageID = id
		pkt = p
	case packets.Pubrel:
		p := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket)
		p.MessageID = id
		pkt = p
	case packets.Pubcomp:
		p := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
		p.MessageID = id
		pkt = p
	default:
		return ErrUnexpectedPacket
	}
	return pkt.Write(h.w)
}

// writePublish must be called with h.mu held.
func (h *handler) writePublish(msg *Message) error {
	if h.w == nil {
		return ErrNotAttached
	}

	pkt := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pkt.TopicName = msg.Topic
	pkt.Payload = msg.Payload
	pkt.Qos = msg.QoS
	pkt.Retain = msg.Retain
	pkt.Dup = msg.Dup
	if msg.QoS > 0 {
		pkt.MessageID = msg.PacketID
	}
	return pkt.Write(h.w)
}
