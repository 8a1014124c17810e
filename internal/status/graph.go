package status

import "time"

// DealingStatus represents the lifecycle state of a dealing
type DealingStatus string

const (
	ApprovalRequired DealingStatus = "APPROVAL_REQUIRED"
	PaymentRequired  DealingStatus = "PAYMENT_REQUIRED"
	ConfirmRequired  DealingStatus = "CONFIRM_REQUIRED"
	Completed        DealingStatus = "COMPLETED"
	Canceled         DealingStatus = "CANCELED"
)

// ActorRole identifies which party to a dealing may perform a transition
type ActorRole string

const (
	RoleBuyer  ActorRole = "buyer"
	RoleSeller ActorRole = "seller"
	RoleAny    ActorRole = "any"
	// RoleNone is returned for callers who are neither party
	RoleNone ActorRole = ""
)

// Transition describes a single legal edge out of a dealing status
type Transition struct {
	To              DealingStatus
	Actor           ActorRole
	MarkPaymentAt   bool
	MarkCompletedAt bool
}

// transitions is the source of truth for the dealing state machine.
// Terminal states have no outgoing edges.
var transitions = map[DealingStatus][]Transition{
	ApprovalRequired: {
		{To: PaymentRequired, Actor: RoleSeller},
		{To: Canceled, Actor: RoleAny},
	},
	PaymentRequired: {
		{To: ConfirmRequired, Actor: RoleBuyer, MarkPaymentAt: true},
		{To: Canceled, Actor: RoleAny},
	},
	ConfirmRequired: {
		{To: Completed, Actor: RoleBuyer, MarkPaymentAt: true, MarkCompletedAt: true},
		{To: Canceled, Actor: RoleAny},
	},
	Completed: {},
	Canceled:  {},
}

// FindTransition returns the edge from current to target, if one exists.
// A missing edge means the request must be rejected, not retried.
func FindTransition(current, target DealingStatus) (Transition, bool) {
	for _, t := range transitions[current] {
		if t.To == target {
			return t, true
		}
	}
	return Transition{}, false
}

// IsTerminal reports whether a status has no outgoing edges
func IsTerminal(s DealingStatus) bool {
	return len(transitions[s]) == 0
}

// Update is the computed mutation for a transition. Timestamp pointers are
// nil when the corresponding field must not change.
type Update struct {
	Status      DealingStatus
	PaymentAt   *time.Time
	CompletedAt *time.Time
	CanceledAt  *time.Time
}

// BuildStatusUpdate computes the mutation for a transition. Timestamps are
// write-once: a flag only takes effect when the existing field is still unset,
// so repeated edges that carry the same flag can never overwrite a value.
func BuildStatusUpdate(t Transition, existingPaymentAt, existingCompletedAt, existingCanceledAt *time.Time, now time.Time) Update {
	u := Update{Status: t.To}
	if t.MarkPaymentAt && existingPaymentAt == nil {
		u.PaymentAt = &now
	}
	if t.MarkCompletedAt && existingCompletedAt == nil {
		u.CompletedAt = &now
	}
	if t.To == Canceled && existingCanceledAt == nil {
		u.CanceledAt = &now
	}
	return u
}

// ResolveActorRole classifies the caller against the two parties of a
// dealing. Buyer wins if the caller somehow matches both sides.
func ResolveActorRole(buyerID, sellerID, callerID string) ActorRole {
	switch {
	case callerID == "":
		return RoleNone
	case callerID == buyerID:
		return RoleBuyer
	case callerID == sellerID:
		return RoleSeller
	default:
		return RoleNone
	}
}

// Permits reports whether a transition restricted to actor may be performed
// by a caller holding role.
func (actor ActorRole) Permits(role ActorRole) bool {
	if role == RoleNone {
		return false
	}
	if actor == RoleAny {
		return role == RoleBuyer || role == RoleSeller
	}
	return actor == role
}
