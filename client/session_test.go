// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress() Address {
	return Address{Network: "tcp", Host: "broker.local", Port: 1883}
}

func TestWindowKindString(t *testing.T) {
	tests := []struct {
		kind WindowKind
		want string
	}{
		{WindowQoS1, "qos1"},
		{WindowRelease, "release"},
		{WindowReceive, "receive"},
		{WindowKind(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("WindowKind(%d).String() = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestNewSessionIsEmpty(t *testing.T) {
	s := newSession(testAddress())

	assert.Equal(t, testAddress(), s.Address())
	assert.Equal(t, SessionStats{}, s.Stats())
	assert.Equal(t, WindowQoS1, s.QoS1.Kind())
	assert.Equal(t, WindowRelease, s.Release.Kind())
	assert.Equal(t, WindowReceive, s.Receive.Kind())
}

func TestQueueFIFO(t *testing.T) {
	s := newSession(testAddress())

	s.Pending.Push(NewMessage("a", []byte("1"), 1, false))
	s.Pending.Push(NewMessage("b", []byte("2"), 1, false))
	s.Pending.Push(nil)
	require.Equal(t, 2, s.Pending.Len())

	head, ok := s.Pending.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", head.Topic)

	msg, ok := s.Pending.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", msg.Topic)

	s.Pending.PushFront(msg)
	topics := []string{}
	for _, m := range s.Pending.Messages() {
		topics = append(topics, m.Topic)
	}
	assert.Equal(t, []string{"a", "b"}, topics)

	s.Pending.Pop()
	s.Pending.Pop()
	_, ok = s.Pending.Pop()
	assert.False(t, ok)
	_, ok = s.Pending.Peek()
	assert.False(t, ok)
}

func TestQueueStoresCopies(t *testing.T) {
	s := newSession(testAddress())

	msg := NewMessage("t", []byte("abc"), 0, false)
	s.Pending.Push(msg)
	msg.Payload[0] = 'x'

	got, _ := s.Pending.Peek()
	assert.Equal(t, []byte("abc"), got.Payload)
}

func TestWindowStoreAndDelete(t *testing.T) {
	s := newSession(testAddress())

	require.NoError(t, s.QoS1.Store(5, NewMessage("t", []byte("p"), 1, false)))
	require.NoError(t, s.QoS1.Store(2, NewMessage("u", []byte("q"), 1, false)))

	assert.True(t, s.QoS1.Contains(5))
	assert.Equal(t, []uint16{5, 2}, s.QoS1.IDs())

	got, ok := s.QoS1.Get(5)
	require.True(t, ok)
	assert.Equal(t, uint16(5), got.PacketID)
	assert.Equal(t, "t", got.Topic)

	msgs := s.QoS1.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, uint16(5), msgs[0].PacketID)

	assert.True(t, s.QoS1.Delete(5))
	assert.False(t, s.QoS1.Delete(5))
	assert.Equal(t, 1, s.QoS1.Len())

	taken, ok := s.QoS1.Take(2)
	require.True(t, ok)
	assert.Equal(t, "u", taken.Topic)
	_, ok = s.QoS1.Take(2)
	assert.False(t, ok)
}

func TestWindowRejectsZeroID(t *testing.T) {
	s := newSession(testAddress())
	err := s.QoS1.Store(0, NewMessage("t", nil, 1, false))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestWindowExclusiveIDs(t *testing.T) {
	tests := []struct {
		name   string
		first  func(*Session) *Window
		second func(*Session) *Window
		ok     bool
	}{
		{"qos1 then release", func(s *Session) *Window { return s.QoS1 }, func(s *Session) *Window { return s.Release }, false},
		{"qos1 then receive", func(s *Session) *Window { return s.QoS1 }, func(s *Session) *Window { return s.Receive }, false},
		{"release then qos1", func(s *Session) *Window { return s.Release }, func(s *Session) *Window { return s.QoS1 }, false},
		{"receive then qos1", func(s *Session) *Window { return s.Receive }, func(s *Session) *Window { return s.QoS1 }, false},
		{"release then receive", func(s *Session) *Window { return s.Release }, func(s *Session) *Window { return s.Receive }, true},
		{"same window twice", func(s *Session) *Window { return s.QoS1 }, func(s *Session) *Window { return s.QoS1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(testAddress())
			require.NoError(t, tt.first(s).Store(7, NewMessage("t", nil, 2, false)))

			err := tt.second(s).Store(7, NewMessage("t", nil, 2, false))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrPacketIDInUse)
		})
	}
}

func TestSessionPromote(t *testing.T) {
	s := newSession(testAddress())
	require.NoError(t, s.QoS1.Store(3, NewMessage("t", []byte("p"), 2, false)))

	assert.True(t, s.Promote(3))
	assert.False(t, s.QoS1.Contains(3))
	assert.True(t, s.Release.Contains(3))

	// A repeated PUBREC finds the ID already released.
	assert.True(t, s.Promote(3))
	assert.False(t, s.Promote(4))

	// Once released the ID can no longer enter the QoS1 window.
	assert.ErrorIs(t, s.QoS1.Store(3, NewMessage("t", nil, 1, false)), ErrPacketIDInUse)

	assert.Equal(t, SessionStats{Release: 1}, s.Stats())
}

func TestSessionStatsInFlight(t *testing.T) {
	st := SessionStats{Pending: 4, QoS1: 1, Release: 2, Receive: 3}
	assert.Equal(t, 6, st.InFlight())
}

func TestWindowKeepsStoreOrder(t *testing.T) {
	s := newSession(testAddress())

	require.NoError(t, s.QoS1.Store(65535, NewMessage("first", nil, 2, false)))
	require.NoError(t, s.QoS1.Store(1, NewMessage("second", nil, 1, false)))
	require.NoError(t, s.QoS1.Store(2, NewMessage("third", nil, 2, false)))

	// A replaced entry keeps its place.
	require.NoError(t, s.QoS1.Store(65535, NewMessage("first", []byte("dup"), 2, false)))
	assert.Equal(t, []uint16{65535, 1, 2}, s.QoS1.IDs())

	// Promotion carries the position into the Release window.
	require.True(t, s.Promote(2))
	require.True(t, s.Promote(65535))
	assert.Equal(t, []uint16{65535, 2}, s.Release.IDs())
	assert.Equal(t, []uint16{1}, s.QoS1.IDs())

	// A deleted and re-stored ID goes to the back.
	require.True(t, s.Release.Delete(65535))
	require.NoError(t, s.Release.Store(65535, NewMessage("again", nil, 2, false)))
	assert.Equal(t, []uint16{2, 65535}, s.Release.IDs())
}
