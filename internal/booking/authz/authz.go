package authz

import (
	"context"
	"fmt"
	"slices"

	"booking-service/internal/shared/apperrors"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	RoleDriver  Role = "driver"
)

// Caller is the identity resolved from a bearer credential.
type Caller struct {
	ID   int64
	Role Role
}

type Operation string

const (
	OpFetchAllRequests     Operation = "fetchAllRequests"
	OpFetchAllBookings     Operation = "fetchAllBookings"
	OpFetchRequest         Operation = "fetchRequest"
	OpFetchBooking         Operation = "fetchBooking"
	OpFetchRequestsForRide Operation = "fetchRequestsForRide"
	OpFetchBookingsForRide Operation = "fetchBookingsForRide"
	OpFetchMyRequests      Operation = "fetchMyRequests"
	OpFetchMyBookings      Operation = "fetchMyBookings"
	OpCreateRequest        Operation = "createRequest"
	OpAcceptRequest        Operation = "acceptRequest"
	OpRejectRequest        Operation = "rejectRequest"
	OpCancelRequest        Operation = "cancelRequest"
	OpCancelBooking        Operation = "cancelBooking"
	OpRequestPaymentSend   Operation = "requestPaymentSend"
)

// Ownership names the record relation a caller must hold.
type Ownership int

const (
	OwnerNone Ownership = iota
	// OwnerRideDriver requires the caller to drive the record's ride.
	OwnerRideDriver
	// OwnerStudent requires the caller to be the record's student.
	OwnerStudent
)

// Policy is the access rule of one operation. Roles in Exempt pass the
// ownership check; everyone else must satisfy Owner.
type Policy struct {
	Roles  []Role
	Owner  Ownership
	Exempt []Role
}

var policies = map[Operation]Policy{
	OpFetchAllRequests:     {Roles: []Role{RoleAdmin}},
	OpFetchAllBookings:     {Roles: []Role{RoleAdmin}},
	OpFetchRequest:         {Roles: []Role{RoleAdmin, RoleDriver}, Owner: OwnerRideDriver, Exempt: []Role{RoleAdmin}},
	OpFetchBooking:         {Roles: []Role{RoleAdmin, RoleDriver}, Owner: OwnerRideDriver, Exempt: []Role{RoleAdmin}},
	OpFetchRequestsForRide: {Roles: []Role{RoleAdmin, RoleDriver}, Owner: OwnerRideDriver, Exempt: []Role{RoleAdmin}},
	OpFetchBookingsForRide: {Roles: []Role{RoleAdmin, RoleDriver}, Owner: OwnerRideDriver, Exempt: []Role{RoleAdmin}},
	OpFetchMyRequests:      {Roles: []Role{RoleAdmin, RoleStudent, RoleDriver}},
	OpFetchMyBookings:      {Roles: []Role{RoleAdmin, RoleStudent, RoleDriver}},
	OpCreateRequest:        {Roles: []Role{RoleStudent, RoleDriver}},
	OpAcceptRequest:        {Roles: []Role{RoleDriver}, Owner: OwnerRideDriver},
	OpRejectRequest:        {Roles: []Role{RoleDriver}, Owner: OwnerRideDriver},
	OpCancelRequest:        {Roles: []Role{RoleAdmin, RoleStudent, RoleDriver}, Owner: OwnerStudent},
	OpCancelBooking:        {Roles: []Role{RoleStudent, RoleDriver}, Owner: OwnerStudent},
	OpRequestPaymentSend:   {Roles: []Role{RoleAdmin, RoleStudent, RoleDriver}},
}

// PolicyFor returns the declared policy; unknown operations allow nobody.
func PolicyFor(op Operation) Policy {
	return policies[op]
}

// CheckAuth reports whether role is one of allowed.
func CheckAuth(allowed []Role, role Role) bool {
	return slices.Contains(allowed, role)
}

// Subject describes the ownership facts of the record being accessed.
type Subject struct {
	DriverID  int64
	StudentID int64
}

// Gate evaluates the policy table.
type Gate struct{}

func NewGate() *Gate { return &Gate{} }

// Permit checks the role part of op's policy.
func (g *Gate) Permit(op Operation, caller Caller) error {
	if !CheckAuth(PolicyFor(op).Roles, caller.Role) {
		return fmt.Errorf("%w: role %q may not %s", apperrors.ErrUnauthorized, caller.Role, op)
	}
	return nil
}

// NeedsOwnership reports whether the caller must still prove ownership after
// Permit succeeded.
func (g *Gate) NeedsOwnership(op Operation, caller Caller) bool {
	p := PolicyFor(op)
	return p.Owner != OwnerNone && !CheckAuth(p.Exempt, caller.Role)
}

// PermitRecord runs the role check and then the ownership check against
// subject. denied is returned when ownership fails so callers surface their
// own Forbidden message.
func (g *Gate) PermitRecord(op Operation, caller Caller, subject Subject, denied error) error {
	if err := g.Permit(op, caller); err != nil {
		return err
	}
	if !g.NeedsOwnership(op, caller) {
		return nil
	}

	var owner int64
	switch PolicyFor(op).Owner {
	case OwnerRideDriver:
		owner = subject.DriverID
	case OwnerStudent:
		owner = subject.StudentID
	}
	if owner == 0 || owner != caller.ID {
		if denied == nil {
			denied = apperrors.ErrForbidden
		}
		return denied
	}
	return nil
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
