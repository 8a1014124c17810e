package types

import "errors"

// Domain error taxonomy. Coordinators return these (possibly wrapped) and the
// HTTP layer maps them to status codes; storage-engine errors never cross the
// boundary directly.
var (
	ErrUnauthorized        = errors.New("caller identity required")
	ErrForbidden           = errors.New("caller lacks the required role")
	ErrNotFound            = errors.New("record not found")
	ErrInvalidTransition   = errors.New("no transition from current status to requested status")
	ErrConflict            = errors.New("conflicting state")
	ErrBuyerRequired       = errors.New("buyer identity could not be resolved")
	ErrShippingInfoMissing = errors.New("shipping destination is incomplete")
)
