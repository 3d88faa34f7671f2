// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

// State represents the reconnection state of a factory.
type State uint32

// Reconnection states.
const (
	StateIdle State = iota
	StateConnected
	StateReconnecting
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
