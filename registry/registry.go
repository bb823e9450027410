// Package registry keeps the set of station admins.
package registry

import (
	"time"

	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/types"
)

// AdminRegistry is not safe for concurrent use; the owning station serializes access.
// The set is never empty.
type AdminRegistry struct {
	admins map[types.Address]struct{}
}

// New seeds the registry. At least one non-zero admin is required.
func New(initial []types.Address) (*AdminRegistry, error) {
	if len(initial) == 0 {
		return nil, types.NewError(types.CodeInvalidConfig, "admin registry needs at least one admin")
	}

	r := &AdminRegistry{admins: make(map[types.Address]struct{}, len(initial))}
	for _, a := range initial {
		if a.IsZero() {
			return nil, types.NewError(types.CodeInvalidAddress, "zero address cannot be an admin")
		}
		r.admins[a] = struct{}{}
	}
	return r, nil
}

func (r *AdminRegistry) IsAdmin(addr types.Address) bool {
	_, ok := r.admins[addr]
	return ok
}

func (r *AdminRegistry) Len() int {
	return len(r.admins)
}

// Admins returns a sorted copy of the admin set.
func (r *AdminRegistry) Admins() []types.Address {
	out := make([]types.Address, 0, len(r.admins))
	for a := range r.admins {
		out = append(out, a)
	}
	types.SortAddresses(out)
	return out
}

// AddAdmin adds newAdmin. Adding an existing member is an error, not a no-op.
func (r *AdminRegistry) AddAdmin(caller, newAdmin types.Address, at time.Time) (audit.AdminChanged, error) {
	if !r.IsAdmin(caller) {
		return audit.AdminChanged{}, types.NewError(types.CodeUnauthorized, "%s is not an admin", caller)
	}
	if newAdmin.IsZero() {
		return audit.AdminChanged{}, types.NewError(types.CodeInvalidAddress, "zero address cannot be an admin")
	}
	if r.IsAdmin(newAdmin) {
		return audit.AdminChanged{}, types.NewError(types.CodeAlreadyAdmin, "%s is already an admin", newAdmin)
	}

	r.admins[newAdmin] = struct{}{}
	return audit.AdminChanged{
		Action: audit.AdminAdded,
		Admin:  newAdmin,
		Caller: caller,
		At:     at,
	}, nil
}

// RemoveAdmin removes target, including the caller itself, as long as one
// admin is left afterwards.
func (r *AdminRegistry) RemoveAdmin(caller, target types.Address, at time.Time) (audit.AdminChanged, error) {
	if !r.IsAdmin(caller) {
		return audit.AdminChanged{}, types.NewError(types.CodeUnauthorized, "%s is not an admin", caller)
	}
	if !r.IsAdmin(target) {
		return audit.AdminChanged{}, types.NewError(types.CodeNotAdmin, "%s is not an admin", target)
	}
	if len(r.admins) == 1 {
		return audit.AdminChanged{}, types.NewError(types.CodeLastAdminViolation, "cannot remove %s, it is the last admin", target)
	}

	delete(r.admins, target)
	return audit.AdminChanged{
		Action: audit.AdminRemoved,
		Admin:  target,
		Caller: caller,
		At:     at,
	}, nil
}
