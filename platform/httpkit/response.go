// Package httpkit provides HTTP response utilities.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"errors"
	"net/http"

	"atelier_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the error body of every endpoint. Code lets clients tell
// a stale version from unresolved units or an unknown write outcome without
// parsing Error.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

var kindCodes = map[apperr.Kind]string{
	apperr.KindNotFound:          "not_found",
	apperr.KindValidation:        "validation",
	apperr.KindBadRequest:        "bad_request",
	apperr.KindConflict:          "conflict",
	apperr.KindForbidden:         "forbidden",
	apperr.KindUnauthorized:      "unauthorized",
	apperr.KindInternal:          "internal",
	apperr.KindGone:              "gone",
	apperr.KindStageNotReady:     "stage_not_ready",
	apperr.KindShortfallOverflow: "shortfall_overflow",
	apperr.KindUnavailable:       "unavailable",
}

func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

// Error sends a request-level failure, before any service call.
func Error(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}

// HandleError writes err and reports whether there was one. Typed errors
// map through their Kind; anything else is an internal error whose text is
// not exposed.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		c.JSON(domainErr.HTTPStatus(), ErrorResponse{
			Error:   domainErr.Message,
			Code:    kindCodes[domainErr.Kind],
			Details: domainErr.Details,
		})
		return true
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: kindCodes[apperr.KindInternal]})
	return true
}
