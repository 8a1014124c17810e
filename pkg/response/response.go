package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/arcade-trade-api/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeBuyerRequired       = "BUYER_REQUIRED"
	ErrCodeShippingInfoMissing = "SHIPPING_INFO_MISSING"
)

// Handle maps the domain error taxonomy onto stable status-code families.
// Storage-engine errors never leak past this point.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, types.ErrUnauthorized):
		Unauthorized(c, err.Error())
	case errors.Is(err, types.ErrForbidden):
		Forbidden(c, err.Error())
	case errors.Is(err, types.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, types.ErrInvalidTransition):
		errorJSON(c, http.StatusBadRequest, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, types.ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, err.Error())
	case errors.Is(err, types.ErrBuyerRequired):
		errorJSON(c, http.StatusBadRequest, ErrCodeBuyerRequired, err.Error())
	case errors.Is(err, types.ErrShippingInfoMissing):
		errorJSON(c, http.StatusBadRequest, ErrCodeShippingInfoMissing, err.Error())
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	errorJSON(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	errorJSON(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	errorJSON(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	errorJSON(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	errorJSON(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	errorJSON(c, http.StatusConflict, ErrCodeConflict, message)
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
