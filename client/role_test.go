// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleSubscriber, "subscriber"},
		{RolePublisher, "publisher"},
		{RolePubSub, "pubsub"},
		{Role(7), "Role(7)"},
	}

	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role(%d).String() = %s, want %s", tt.role, got, tt.want)
		}
	}
}

func TestRoleHas(t *testing.T) {
	assert.True(t, RolePubSub.Has(RolePublisher))
	assert.True(t, RolePubSub.Has(RoleSubscriber))
	assert.True(t, RolePublisher.Has(RolePublisher))
	assert.False(t, RolePublisher.Has(RoleSubscriber))
	assert.False(t, RoleSubscriber.Has(RolePubSub))
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"subscriber", RoleSubscriber, false},
		{"Publisher", RolePublisher, false},
		{" pubsub ", RolePubSub, false},
		{"both", RolePubSub, false},
		{"observer", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidRole, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestResolveKnownRoles(t *testing.T) {
	for _, role := range []Role{RoleSubscriber, RolePublisher, RolePubSub} {
		ctor, err := Resolve(role)
		require.NoError(t, err)
		require.NotNil(t, ctor)

		h := ctor(HandlerEnv{Address: testAddress(), Session: newSession(testAddress()), NextID: (&PacketIDs{}).Next})
		assert.Equal(t, role, h.Role())
		assert.Equal(t, testAddress(), h.Address())
	}
}

func TestResolveUnknownRole(t *testing.T) {
	for _, role := range []Role{0, 4, 7, 0xff} {
		ctor, err := Resolve(role)
		assert.Nil(t, ctor)
		require.Error(t, err)

		var ce *ConfigurationError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "role", ce.Field)
		assert.Equal(t, uint8(role), ce.Value)
		assert.ErrorIs(t, err, ErrInvalidRole)
		assert.True(t, IsConfigurationError(err))
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Field: "role", Value: uint8(7), Err: ErrInvalidRole}
	assert.Equal(t, "role value not supported: role=7", err.Error())
}
