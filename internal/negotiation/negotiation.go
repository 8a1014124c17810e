package negotiation

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/arcade-trade-api/internal/auth"
	"github.com/ksred/arcade-trade-api/internal/ledger"
	"github.com/ksred/arcade-trade-api/internal/listing"
	"github.com/ksred/arcade-trade-api/internal/status"
	"github.com/ksred/arcade-trade-api/internal/types"
	"github.com/ksred/arcade-trade-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles negotiation operations, most importantly the buyer-approval
// transaction that materializes a dealing exactly once
type Service struct {
	db     *Database
	poster *ledger.Poster
}

// NewService creates a new negotiation service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		poster: ledger.NewPoster(),
	}
}

// CreateRequest carries the fields for a new negotiation
type CreateRequest struct {
	NaviType    types.NaviType         `json:"navi_type" binding:"required"`
	BuyerUserID string                 `json:"buyer_user_id"`
	ListingID   string                 `json:"listing_id"`
	Send        bool                   `json:"send"`
	Payload     map[string]interface{} `json:"payload"`
}

// StatusResult is the outcome of a status update: the negotiation plus the
// dealing id when one exists
type StatusResult struct {
	Negotiation *types.Negotiation `json:"negotiation"`
	DealingID   string             `json:"dealing_id,omitempty"`
}

// Create creates a new negotiation owned by the caller, DRAFT or SENT.
// When a listing is referenced its terms are snapshotted immediately.
func (s *Service) Create(ownerID string, req CreateRequest) (*types.Negotiation, error) {
	if ownerID == "" {
		return nil, types.ErrUnauthorized
	}

	payloadRaw := ""
	if len(req.Payload) > 0 {
		encoded, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		payloadRaw = string(encoded)
	}

	n := &types.Negotiation{
		NaviID:      "NAV_" + uuid.New().String(),
		OwnerUserID: ownerID,
		BuyerUserID: req.BuyerUserID,
		NaviType:    req.NaviType,
		Status:      types.NegotiationDraft,
		ListingID:   req.ListingID,
		Payload:     payloadRaw,
	}
	if req.Send {
		n.Status = types.NegotiationSent
	}

	if req.ListingID != "" {
		l, err := listing.Get(s.db.db, req.ListingID)
		if err != nil {
			return nil, err
		}
		if l != nil {
			snapshot, err := l.Snapshot()
			if err != nil {
				return nil, err
			}
			n.ListingSnapshot = snapshot
		}
	}

	if err := s.db.CreateNegotiation(n); err != nil {
		return nil, fmt.Errorf("failed to create negotiation: %w", err)
	}

	log.Info().
		Str("navi_id", n.NaviID).
		Str("owner_user_id", ownerID).
		Str("status", string(n.Status)).
		Str("service", "negotiation").
		Msg("negotiation created")
	return n, nil
}

// Get retrieves a negotiation by its ID
func (s *Service) Get(naviID string) (*types.Negotiation, error) {
	n, err := s.db.GetNegotiation(naviID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, types.ErrNotFound
	}
	return n, nil
}

// UpdatePayload merges a patch into the negotiation's payload. Either party
// may attach conditions or shipping info until the negotiation is terminal.
func (s *Service) UpdatePayload(naviID, callerID string, patch map[string]interface{}) (*types.Negotiation, error) {
	if callerID == "" {
		return nil, types.ErrUnauthorized
	}

	var result *types.Negotiation
	err := s.db.Transaction(func(tx *gorm.DB) error {
		n, err := GetNegotiationTx(tx, naviID)
		if err != nil {
			return err
		}
		if n == nil {
			return types.ErrNotFound
		}
		if callerID != n.OwnerUserID && callerID != resolveBuyerID(n) {
			return types.ErrForbidden
		}
		if n.Status == types.NegotiationApproved || n.Status == types.NegotiationRejected {
			return fmt.Errorf("%w: negotiation is %s", types.ErrConflict, n.Status)
		}

		merged, err := types.MergePayload(n.Payload, patch)
		if err != nil {
			return fmt.Errorf("failed to merge payload: %w", err)
		}
		n.Payload = merged
		if err := SaveNegotiationTx(tx, n); err != nil {
			return err
		}
		result = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus advances a negotiation, materializing the dealing exactly once
// on approval. Approval is a buyer-only right; every other target belongs to
// the owner. A repeat approval against an already-approved negotiation is an
// idempotent success returning the existing dealing.
func (s *Service) UpdateStatus(naviID, callerID string, target types.NegotiationStatus) (*StatusResult, error) {
	if callerID == "" {
		return nil, types.ErrUnauthorized
	}

	logger := log.With().
		Str("navi_id", naviID).
		Str("caller_user_id", callerID).
		Str("target_status", string(target)).
		Str("service", "negotiation").
		Logger()

	var result *StatusResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		n, err := GetNegotiationTx(tx, naviID)
		if err != nil {
			return err
		}
		if n == nil {
			return types.ErrNotFound
		}

		buyerID := resolveBuyerID(n)
		approving := target == types.NegotiationApproved

		// Precondition checks, each failure distinct, all before any write
		if callerID != n.OwnerUserID && callerID != buyerID {
			return types.ErrForbidden
		}
		if approving {
			// BuyerRequired before the buyer-only check: an unresolvable
			// buyer is a data problem, not a rights problem
			if buyerID == "" {
				return types.ErrBuyerRequired
			}
			if callerID != buyerID {
				return fmt.Errorf("%w: approval is a buyer-only right", types.ErrForbidden)
			}
			payload, err := types.DecodePayload(n.Payload)
			if err != nil {
				return fmt.Errorf("failed to decode payload: %w", err)
			}
			if !payload.HasShippingInfo() {
				return types.ErrShippingInfoMissing
			}
		} else if callerID != n.OwnerUserID {
			return types.ErrForbidden
		}

		existing, err := GetDealingByNaviTx(tx, naviID)
		if err != nil {
			return err
		}
		if existing != nil {
			if approving && n.Status == types.NegotiationApproved {
				// Duplicate submit after a network hiccup: same outcome, no new rows
				result = &StatusResult{Negotiation: n, DealingID: existing.DealingID}
				return nil
			}
			// A dealing without an approved negotiation means a prior
			// invariant was violated; surface it instead of absorbing it.
			logger.Warn().
				Str("dealing_id", existing.DealingID).
				Str("negotiation_status", string(n.Status)).
				Msg("dealing exists for non-approved negotiation")
			return fmt.Errorf("%w: negotiation already has a dealing", types.ErrConflict)
		}

		merged, err := types.MergeSnapshotIntoPayload(n.Payload, n.ListingSnapshot)
		if err != nil {
			return fmt.Errorf("failed to merge listing snapshot: %w", err)
		}
		n.Status = target
		n.Payload = merged
		if approving && n.BuyerUserID == "" {
			// Normalize legacy payload-only buyer identity on the way forward
			n.BuyerUserID = buyerID
		}
		if err := SaveNegotiationTx(tx, n); err != nil {
			return err
		}

		if !approving {
			result = &StatusResult{Negotiation: n}
			return nil
		}

		dealing, err := UpsertDealingTx(tx, &types.Dealing{
			DealingID:    "DLG_" + uuid.New().String(),
			NaviID:       n.NaviID,
			SellerUserID: n.OwnerUserID,
			BuyerUserID:  buyerID,
			NaviType:     n.NaviType,
			Status:       status.ApprovalRequired,
			Payload:      merged,
		})
		if err != nil {
			return err
		}

		if err := s.poster.PostPlanned(tx, dealing); err != nil {
			return err
		}

		// Listing visibility is a downstream projection of the dealing;
		// failing to flip it must never abort the approval.
		if n.ListingID != "" {
			if err := listing.MarkSold(tx, n.ListingID); err != nil {
				logger.Warn().Err(err).
					Str("listing_id", n.ListingID).
					Msg("failed to mark listing sold")
			}
		}

		logger.Info().
			Str("dealing_id", dealing.DealingID).
			Str("buyer_user_id", buyerID).
			Msg("negotiation approved, dealing created")
		result = &StatusResult{Negotiation: n, DealingID: dealing.DealingID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveBuyerID resolves the buyer identity: the normalized column first,
// then the legacy payload key. Compatibility shim for old rows; new write
// paths always set the column.
func resolveBuyerID(n *types.Negotiation) string {
	if n.BuyerUserID != "" {
		return n.BuyerUserID
	}
	payload, err := types.DecodePayload(n.Payload)
	if err != nil {
		return ""
	}
	return payload.BuyerID
}

// GinHandlers contains HTTP handlers for negotiation endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for negotiation endpoints
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

// CreateHandler handles POST requests to create negotiations
// Requires a valid JWT token
func (h *GinHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerUserID(c)
		if !ok {
			return
		}

		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.NaviType != types.NaviPhoneAgreement && req.NaviType != types.NaviOnlineInquiry {
			response.BadRequest(c, "Unknown navi type")
			return
		}

		n, err := h.service.Create(userID, req)
		response.Handle(c, n, err)
	}
}

// GetHandler handles GET requests for a single negotiation
// URL parameter: navi_id
func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		naviID := c.Param("navi_id")
		if naviID == "" {
			response.BadRequest(c, "Negotiation ID is required")
			return
		}

		n, err := h.service.Get(naviID)
		response.Handle(c, n, err)
	}
}

// UpdatePayloadHandler handles PUT requests merging a patch into the payload
// URL parameter: navi_id
func (h *GinHandlers) UpdatePayloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerUserID(c)
		if !ok {
			return
		}

		naviID := c.Param("navi_id")
		var patch map[string]interface{}
		if err := c.ShouldBindJSON(&patch); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		n, err := h.service.UpdatePayload(naviID, userID, patch)
		response.Handle(c, n, err)
	}
}

// UpdateStatusHandler handles PUT requests advancing a negotiation's status
// URL parameter: navi_id
func (h *GinHandlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerUserID(c)
		if !ok {
			return
		}

		naviID := c.Param("navi_id")
		var req struct {
			Status types.NegotiationStatus `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		switch req.Status {
		case types.NegotiationDraft, types.NegotiationSent, types.NegotiationApproved, types.NegotiationRejected:
		default:
			response.BadRequest(c, "Unknown negotiation status")
			return
		}

		result, err := h.service.UpdateStatus(naviID, userID, req.Status)
		response.Handle(c, result, err)
	}
}
