// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"time"

	"github.com/absmach/mqttfactory/topics"
)

// Message represents an MQTT application message tracked by a session.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retain    bool
	Dup       bool
	PacketID  uint16
	Timestamp time.Time
}

// NewMessage creates a new message with the given parameters.
func NewMessage(topic string, payload []byte, qos byte, retain bool) *Message {
	return &Message{
		Topic:     topic,
		Payload:   payload,
		QoS:       qos,
		Retain:    retain,
		Timestamp: time.Now(),
	}
}

// Validate checks that the message can be published.
func (m *Message) Validate() error {
	if m == nil {
		return ErrInvalidMessage
	}
	if m.QoS > 2 {
		return ErrInvalidQoS
	}
	if err := topics.ValidateTopicName(m.Topic); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, m.Topic)
	}
	return nil
}

// Copy creates a deep copy of the message.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}

	msg := *m
	if m.Payload != nil {
		msg.Payload = make([]byte, len(m.Payload))
		copy(msg.Payload, m.Payload)
	}
	return &msg
}
