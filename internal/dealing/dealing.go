package dealing

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/arcade-trade-api/internal/auth"
	"github.com/ksred/arcade-trade-api/internal/ledger"
	"github.com/ksred/arcade-trade-api/internal/status"
	"github.com/ksred/arcade-trade-api/internal/todo"
	"github.com/ksred/arcade-trade-api/internal/types"
	"github.com/ksred/arcade-trade-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service applies status-graph transitions to dealings and triggers the
// actual ledger postings tied to them
type Service struct {
	db     *Database
	poster *ledger.Poster
}

// NewService creates a new dealing service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		poster: ledger.NewPoster(),
	}
}

// Get retrieves a dealing by its ID
func (s *Service) Get(dealingID string) (*types.Dealing, error) {
	dealing, err := s.db.GetDealing(dealingID)
	if err != nil {
		return nil, err
	}
	if dealing == nil {
		return nil, types.ErrNotFound
	}
	return dealing, nil
}

// Todo projects the dealing's single outstanding action
func (s *Service) Todo(dealingID string) (*todo.Todo, error) {
	dealing, err := s.Get(dealingID)
	if err != nil {
		return nil, err
	}
	t := todo.FromDealingStatus(dealing.Status, dealing.NaviType)
	return &t, nil
}

// Transition advances a dealing along the status graph. Terminal states
// reject everything; repeating the current status is an idempotent no-op that
// posts nothing; all other requests must match a graph edge the caller's role
// is permitted on.
func (s *Service) Transition(dealingID, callerID string, target status.DealingStatus) (*types.Dealing, error) {
	if callerID == "" {
		return nil, types.ErrUnauthorized
	}

	logger := log.With().
		Str("dealing_id", dealingID).
		Str("caller_user_id", callerID).
		Str("target_status", string(target)).
		Str("service", "dealing").
		Logger()

	var result *types.Dealing
	err := s.db.Transaction(func(tx *gorm.DB) error {
		dealing, err := GetDealingTx(tx, dealingID)
		if err != nil {
			return err
		}
		if dealing == nil {
			return types.ErrNotFound
		}

		if status.IsTerminal(dealing.Status) && dealing.Status != target {
			return fmt.Errorf("%w: dealing is %s", types.ErrConflict, dealing.Status)
		}
		if dealing.Status == target {
			// Duplicate submit of the same transition: same record back,
			// no timestamps touched, no ledger rows posted
			result = dealing
			return nil
		}

		transition, ok := status.FindTransition(dealing.Status, target)
		if !ok {
			return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, dealing.Status, target)
		}

		role := status.ResolveActorRole(dealing.BuyerUserID, dealing.SellerUserID, callerID)
		if !transition.Actor.Permits(role) {
			return types.ErrForbidden
		}

		update := status.BuildStatusUpdate(transition,
			dealing.PaymentAt, dealing.CompletedAt, dealing.CanceledAt, time.Now())
		if err := ApplyStatusUpdateTx(tx, dealing, update); err != nil {
			return err
		}

		// Ledger reactions per edge, inside the same transaction. The
		// same-status early return above already guards re-posting.
		switch transition.To {
		case status.PaymentRequired:
			// Planned pair normally exists since creation; re-ensuring it
			// covers deployments whose initial state skips APPROVAL_REQUIRED
			if err := s.poster.PostPlanned(tx, dealing); err != nil {
				return err
			}
		case status.ConfirmRequired:
			if err := s.poster.PostActual(tx, dealing, status.RoleBuyer); err != nil {
				return err
			}
		case status.Completed:
			if err := s.poster.PostActual(tx, dealing, status.RoleSeller); err != nil {
				return err
			}
		}

		logger.Info().
			Str("role", string(role)).
			Str("new_status", string(dealing.Status)).
			Msg("dealing transitioned")
		result = dealing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GinHandlers contains HTTP handlers for dealing endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for dealing endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func callerUserID(c *gin.Context) (string, bool) {
	claims, exists := c.Get("claims")
	if !exists {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	userID := auth.GetUserID(claims)
	if userID == "" {
		response.Unauthorized(c, "Invalid user ID in token")
		return "", false
	}
	return userID, true
}

// GetHandler handles GET requests for a single dealing
// URL parameter: dealing_id
func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealingID := c.Param("dealing_id")
		if dealingID == "" {
			response.BadRequest(c, "Dealing ID is required")
			return
		}

		dealing, err := h.service.Get(dealingID)
		response.Handle(c, dealing, err)
	}
}

// TodoHandler handles GET requests for a dealing's outstanding action
// URL parameter: dealing_id
func (h *GinHandlers) TodoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dealingID := c.Param("dealing_id")

		t, err := h.service.Todo(dealingID)
		response.Handle(c, t, err)
	}
}

// TransitionHandler handles PUT requests advancing a dealing's status
// URL parameter: dealing_id
func (h *GinHandlers) TransitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerUserID(c)
		if !ok {
			return
		}

		dealingID := c.Param("dealing_id")
		var req struct {
			Status status.DealingStatus `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		switch req.Status {
		case status.ApprovalRequired, status.PaymentRequired, status.ConfirmRequired, status.Completed, status.Canceled:
		default:
			response.BadRequest(c, "Unknown dealing status")
			return
		}

		dealing, err := h.service.Transition(dealingID, userID, req.Status)
		response.Handle(c, dealing, err)
	}
}
