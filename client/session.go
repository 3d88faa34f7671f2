// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// WindowKind identifies one of the in-flight windows of a session.
type WindowKind int

// Window kinds.
const (
	WindowQoS1 WindowKind = iota
	WindowRelease
	WindowReceive
)

// String returns the window name.
func (k WindowKind) String() string {
	switch k {
	case WindowQoS1:
		return "qos1"
	case WindowRelease:
		return "release"
	case WindowReceive:
		return "receive"
	default:
		return "unknown"
	}
}

// Session holds the delivery state for one remote address. It outlives
// individual connections so that a reconnect resumes where the previous
// connection stopped.
//
// All four containers share the session lock, so checks that span windows
// are atomic.
type Session struct {
	mu   sync.Mutex
	addr Address
	// seq numbers window entries in the order they were first stored.
	seq uint64

	// Pending holds outbound messages not yet transmitted.
	Pending *Queue
	// QoS1 holds outbound PUBLISH packets awaiting PUBACK (QoS 1) or
	// PUBREC (QoS 2).
	QoS1 *Window
	// Release holds outbound QoS 2 messages awaiting PUBCOMP after PUBREL.
	Release *Window
	// Receive holds inbound QoS 2 messages awaiting PUBREL.
	Receive *Window
}

// SessionStats reports container sizes of a session.
type SessionStats struct {
	Pending int
	QoS1    int
	Release int
	Receive int
}

// InFlight returns the number of entries across all windows.
func (s SessionStats) InFlight() int {
	return s.QoS1 + s.Release + s.Receive
}

func newSession(addr Address) *Session {
	s := &Session{addr: addr}
	s.Pending = &Queue{s: s}
	s.QoS1 = newWindow(s, WindowQoS1)
	s.Release = newWindow(s, WindowRelease)
	s.Receive = newWindow(s, WindowReceive)
	return s
}

// Address returns the remote address the session belongs to.
func (s *Session) Address() Address {
	return s.addr
}

// Stats returns the current container sizes.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		Pending: len(s.Pending.msgs),
		QoS1:    len(s.QoS1.msgs),
		Release: len(s.Release.msgs),
		Receive: len(s.Receive.msgs),
	}
}

// Promote moves an outbound QoS 2 message from the QoS1 window to the
// Release window once its PUBREC arrived. It reports whether the ID was
// found in either window; a repeated PUBREC for an already released ID is
// not an error.
func (s *Session) Promote(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.QoS1.msgs[id]; ok {
		s.Release.msgs[id] = msg
		s.Release.order[id] = s.QoS1.order[id]
		s.QoS1.remove(id)
		return true
	}
	_, ok := s.Release.msgs[id]
	return ok
}

// Window maps packet IDs to messages whose handshake is not complete.
type Window struct {
	s     *Session
	kind  WindowKind
	msgs  map[uint16]*Message
	order map[uint16]uint64
}

func newWindow(s *Session, kind WindowKind) *Window {
	return &Window{
		s:     s,
		kind:  kind,
		msgs:  make(map[uint16]*Message),
		order: make(map[uint16]uint64),
	}
}

// remove must be called with the session lock held.
func (w *Window) remove(id uint16) {
	delete(w.msgs, id)
	delete(w.order, id)
}

// Kind returns the window kind.
func (w *Window) Kind() WindowKind {
	return w.kind
}

// Store records msg under id. Storing an ID that is in flight in a window
// it may not share with returns ErrPacketIDInUse. Replacing an entry in
// the same window is allowed (duplicate delivery).
func (w *Window) Store(id uint16, msg *Message) error {
	if id == 0 {
		return fmt.Errorf("%w: packet ID 0", ErrInvalidMessage)
	}

	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	for _, other := range w.exclusive() {
		if _, ok := other.msgs[id]; ok {
			return fmt.Errorf("%w: %d held by %s window", ErrPacketIDInUse, id, other.kind)
		}
	}

	m := msg.Copy()
	if m == nil {
		m = &Message{}
	}
	m.PacketID = id
	if _, ok := w.msgs[id]; !ok {
		w.s.seq++
		w.order[id] = w.s.seq
	}
	w.msgs[id] = m
	return nil
}

// exclusive returns the windows that may not hold an ID stored in w.
// Must be called with the session lock held.
func (w *Window) exclusive() []*Window {
	switch w.kind {
	case WindowQoS1:
		return []*Window{w.s.Release, w.s.Receive}
	default:
		return []*Window{w.s.QoS1}
	}
}

// Get returns a copy of the message stored under id.
func (w *Window) Get(id uint16) (*Message, bool) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	msg, ok := w.msgs[id]
	if !ok {
		return nil, false
	}
	return msg.Copy(), true
}

// Contains reports whether id is in the window.
func (w *Window) Contains(id uint16) bool {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	_, ok := w.msgs[id]
	return ok
}

// Delete removes id and reports whether it was present.
func (w *Window) Delete(id uint16) bool {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.msgs[id]; !ok {
		return false
	}
	w.remove(id)
	return true
}

// Take removes id and returns its message.
func (w *Window) Take(id uint16) (*Message, bool) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	msg, ok := w.msgs[id]
	if ok {
		w.remove(id)
	}
	return msg, ok
}

// Len returns the number of entries.
func (w *Window) Len() int {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return len(w.msgs)
}

// IDs returns the packet IDs in the order they were first stored. A QoS 2
// entry keeps its position when promoted to the Release window. Packet IDs
// wrap, so their numeric order says nothing about transmission order.
func (w *Window) IDs() []uint16 {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	ids := make([]uint16, 0, len(w.msgs))
	for id := range w.msgs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uint16) int {
		return cmp.Compare(w.order[a], w.order[b])
	})
	return ids
}

// Messages returns copies of all entries in the order they were first stored.
func (w *Window) Messages() []*Message {
	ids := w.IDs()

	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	msgs := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := w.msgs[id]; ok {
			msgs = append(msgs, msg.Copy())
		}
	}
	return msgs
}

// Queue is the FIFO of outbound messages waiting to be transmitted.
type Queue struct {
	s    *Session
	msgs []*Message
}

// Push appends msg to the back of the queue.
func (q *Queue) Push(msg *Message) {
	if msg == nil {
		return
	}
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	q.msgs = append(q.msgs, msg.Copy())
}

// PushFront puts msg back at the head of the queue, used when a
// transmission could not be completed.
func (q *Queue) PushFront(msg *Message) {
	if msg == nil {
		return
	}
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	q.msgs = append([]*Message{msg.Copy()}, q.msgs...)
}

// Pop removes and returns the oldest message.
func (q *Queue) Pop() (*Message, bool) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil, false
	}
	msg := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	return msg, true
}

// Peek returns a copy of the oldest message without removing it.
func (q *Queue) Peek() (*Message, bool) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil, false
	}
	return q.msgs[0].Copy(), true
}

// Len returns the queue length.
func (q *Queue) Len() int {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	return len(q.msgs)
}

// Messages returns copies of the queued messages in order.
func (q *Queue) Messages() []*Message {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	msgs := make([]*Message, len(q.msgs))
	for i, m := range q.msgs {
		msgs[i] = m.Copy()
	}
	return msgs
}
