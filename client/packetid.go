// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "sync"

// PacketIDs produces MQTT packet identifiers. Identifiers outlive the
// connections that use them: one allocator serves every handler a factory
// builds. It does not check for identifiers still in flight from the
// previous cycle.
type PacketIDs struct {
	mu   sync.Mutex
	last uint16
}

// Next returns the next packet ID. Values run 1..65535 and wrap back to 1;
// 0 is never returned.
func (p *PacketIDs) Next() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last++
	if p.last == 0 {
		p.last = 1
	}
	return p.last
}

// Last returns the most recently issued ID, or 0 if none was issued yet.
func (p *PacketIDs) Last() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
