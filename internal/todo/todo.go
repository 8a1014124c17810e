// Package todo derives the single outstanding action for a dealing from its
// status. The kind enum and the dealing status enum are kept in lock-step
// through exhaustive switches with no default branch: adding a status to one
// side without the other fails to compile.
package todo

import (
	"github.com/ksred/arcade-trade-api/internal/status"
	"github.com/ksred/arcade-trade-api/internal/types"
)

// Kind is the classification of the outstanding action
type Kind string

const (
	ApplicationSent     Kind = "application_sent"
	ApplicationApproved Kind = "application_approved"
	PaymentConfirmed    Kind = "payment_confirmed"
	TradeCompleted      Kind = "trade_completed"
	TradeCanceled       Kind = "trade_canceled"
)

// Section is the UI area a todo belongs to
type Section string

const (
	SectionApproval     Section = "approval"
	SectionPayment      Section = "payment"
	SectionConfirmation Section = "confirmation"
	SectionCompleted    Section = "completed"
	SectionCanceled     Section = "canceled"
)

// Todo describes the current outstanding step: who acts and what the step
// becomes once done. CompleteTodo is empty for terminal kinds.
type Todo struct {
	Kind         Kind             `json:"kind"`
	Section      Section          `json:"section"`
	ActsNext     status.ActorRole `json:"acts_next,omitempty"`
	CompleteTodo Kind             `json:"complete_todo,omitempty"`
}

// FromDealingStatus projects a dealing's status into its todo. The naviType
// parameter is the extension slot for workflow variants; both current types
// share one flow.
func FromDealingStatus(s status.DealingStatus, naviType types.NaviType) Todo {
	switch naviType {
	case types.NaviPhoneAgreement, types.NaviOnlineInquiry:
	}

	switch s {
	case status.ApprovalRequired:
		return Todo{
			Kind:         ApplicationSent,
			Section:      SectionApproval,
			ActsNext:     status.RoleSeller,
			CompleteTodo: ApplicationApproved,
		}
	case status.PaymentRequired:
		return Todo{
			Kind:         ApplicationApproved,
			Section:      SectionPayment,
			ActsNext:     status.RoleBuyer,
			CompleteTodo: PaymentConfirmed,
		}
	case status.ConfirmRequired:
		return Todo{
			Kind:         PaymentConfirmed,
			Section:      SectionConfirmation,
			ActsNext:     status.RoleBuyer,
			CompleteTodo: TradeCompleted,
		}
	case status.Completed:
		return Todo{Kind: TradeCompleted, Section: SectionCompleted}
	case status.Canceled:
		return Todo{Kind: TradeCanceled, Section: SectionCanceled}
	}
	return Todo{}
}

// DealingStatusForKind is the inverse projection, used to classify ledger
// timing from a todo kind.
func DealingStatusForKind(k Kind) status.DealingStatus {
	switch k {
	case ApplicationSent:
		return status.ApprovalRequired
	case ApplicationApproved:
		return status.PaymentRequired
	case PaymentConfirmed:
		return status.ConfirmRequired
	case TradeCompleted:
		return status.Completed
	case TradeCanceled:
		return status.Canceled
	}
	return ""
}
