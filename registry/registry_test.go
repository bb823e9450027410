package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/types"
)

var (
	adminA = types.MustHexToAddress("0xa")
	adminB = types.MustHexToAddress("0xb")
	userU  = types.MustHexToAddress("0xc")
	now    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	_, err = New([]types.Address{{}})
	assert.True(t, errors.Is(err, types.ErrInvalidAddress))

	r, err := New([]types.Address{adminB, adminA, adminA})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []types.Address{adminA, adminB}, r.Admins())
}

func TestAddAdmin(t *testing.T) {
	tests := []struct {
		name    string
		caller  types.Address
		target  types.Address
		wantErr error
	}{
		{name: "admin adds new admin", caller: adminA, target: adminB},
		{name: "non admin", caller: userU, target: adminB, wantErr: types.ErrUnauthorized},
		{name: "non admin adding existing admin is unauthorized", caller: userU, target: adminA, wantErr: types.ErrUnauthorized},
		{name: "already admin", caller: adminA, target: adminA, wantErr: types.ErrAlreadyAdmin},
		{name: "zero address", caller: adminA, target: types.Address{}, wantErr: types.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New([]types.Address{adminA})
			require.NoError(t, err)

			change, err := r.AddAdmin(tt.caller, tt.target, now)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Equal(t, 1, r.Len())
				return
			}
			require.NoError(t, err)
			assert.True(t, r.IsAdmin(tt.target))
			assert.Equal(t, audit.AdminAdded, change.Action)
			assert.Equal(t, tt.target, change.Admin)
			assert.Equal(t, tt.caller, change.Caller)
		})
	}
}

func TestRemoveAdmin(t *testing.T) {
	tests := []struct {
		name     string
		initial  []types.Address
		caller   types.Address
		target   types.Address
		wantErr  error
		wantLeft int
	}{
		{name: "remove other admin", initial: []types.Address{adminA, adminB}, caller: adminA, target: adminB, wantLeft: 1},
		{name: "self removal with another admin left", initial: []types.Address{adminA, adminB}, caller: adminA, target: adminA, wantLeft: 1},
		{name: "last admin", initial: []types.Address{adminA}, caller: adminA, target: adminA, wantErr: types.ErrLastAdminViolation, wantLeft: 1},
		{name: "target not admin", initial: []types.Address{adminA}, caller: adminA, target: userU, wantErr: types.ErrNotAdmin, wantLeft: 1},
		{name: "unauthorized before not admin", initial: []types.Address{adminA}, caller: userU, target: userU, wantErr: types.ErrUnauthorized, wantLeft: 1},
		{name: "unauthorized before last admin", initial: []types.Address{adminA}, caller: userU, target: adminA, wantErr: types.ErrUnauthorized, wantLeft: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.initial)
			require.NoError(t, err)

			change, err := r.RemoveAdmin(tt.caller, tt.target, now)
			assert.Equal(t, tt.wantLeft, r.Len())
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.False(t, r.IsAdmin(tt.target))
			assert.Equal(t, audit.AdminRemoved, change.Action)
		})
	}
}

func TestRegistryNeverEmpties(t *testing.T) {
	r, err := New([]types.Address{adminA, adminB, userU})
	require.NoError(t, err)

	for _, a := range []types.Address{adminA, adminB, userU} {
		for _, target := range r.Admins() {
			_, _ = r.RemoveAdmin(a, target, now)
		}
		assert.GreaterOrEqual(t, r.Len(), 1)
	}
	assert.Equal(t, 1, r.Len())
}
