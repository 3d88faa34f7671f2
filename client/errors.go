// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// Configuration errors.
	ErrInvalidRole    = errors.New("role value not supported")
	ErrInvalidOptions = errors.New("invalid client options")

	// Connection errors.
	ErrConnectionLost   = errors.New("connection lost")
	ErrConnectionFailed = errors.New("connection failed")
	ErrFactoryStopped   = errors.New("factory has been stopped")

	// Operation errors.
	ErrRoleNotSupported = errors.New("operation not supported by role")
	ErrPacketIDInUse    = errors.New("packet ID already in flight")
	ErrNotAttached      = errors.New("handler not attached to a connection")
	ErrInvalidQoS       = errors.New("invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic     = errors.New("invalid topic")
	ErrInvalidMessage   = errors.New("invalid message")

	// Protocol errors.
	ErrUnexpectedPacket = errors.New("unexpected packet type")
)

// ConfigurationError reports a configuration value the factory cannot use.
// It aborts the connection attempt and is never retried.
type ConfigurationError struct {
	Field string
	Value any
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s=%v", e.Err, e.Field, e.Value)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
