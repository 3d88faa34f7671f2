// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"log/slog"
	"strings"
)

// Role selects whether handlers publish, subscribe or both.
type Role uint8

// Roles. RolePubSub is the union of the other two.
const (
	RoleSubscriber Role = 0x1
	RolePublisher  Role = 0x2
	RolePubSub          = RoleSubscriber | RolePublisher
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleSubscriber:
		return "subscriber"
	case RolePublisher:
		return "publisher"
	case RolePubSub:
		return "pubsub"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Has reports whether r includes every capability of other.
func (r Role) Has(other Role) bool {
	return r&other == other
}

// ParseRole converts a role name to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subscriber":
		return RoleSubscriber, nil
	case "publisher":
		return RolePublisher, nil
	case "pubsub", "publisher_subscriber", "both":
		return RolePubSub, nil
	default:
		return 0, &ConfigurationError{Field: "role", Value: s, Err: ErrInvalidRole}
	}
}

// HandlerEnv is what a handler constructor receives from its factory.
type HandlerEnv struct {
	Role    Role
	Address Address
	// NextID allocates packet IDs from the factory-wide allocator.
	NextID  func() uint16
	Session *Session
	Logger  *slog.Logger
	// OnMessage receives inbound application messages. May be nil.
	OnMessage func(*Message)
}

// HandlerConstructor builds a protocol handler bound to one connection.
type HandlerConstructor func(env HandlerEnv) ProtocolHandler

var constructors = map[Role]HandlerConstructor{
	RoleSubscriber: newSubscriberHandler,
	RolePublisher:  newPublisherHandler,
	RolePubSub:     newPubSubHandler,
}

// Resolve returns the handler constructor for role. Unknown roles yield a
// ConfigurationError naming the value.
func Resolve(role Role) (HandlerConstructor, error) {
	c, ok := constructors[role]
	if !ok {
		return nil, &ConfigurationError{Field: "role", Value: uint8(role), Err: ErrInvalidRole}
	}
	return c, nil
}
