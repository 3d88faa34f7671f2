// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"net"
	"strconv"
)

// Address identifies a remote endpoint. It is the key for all
// per-connection session state.
type Address struct {
	Network string
	Host    string
	Port    int
}

// ParseAddress builds an Address from a network name and a host:port string.
func ParseAddress(network, hostport string) (Address, error) {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("invalid port in address %q", hostport)
	}
	if network == "" {
		network = "tcp"
	}
	return Address{Network: network, Host: host, Port: port}, nil
}

// HostPort returns the host:port form suitable for dialing.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// String returns the address as network://host:port.
func (a Address) String() string {
	return a.Network + "://" + a.HostPort()
}
