package helpers

import (
	"errors"
	"net/http"

	"auction-room/internal/biddingerrors"
	"auction-room/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	utils.JSONError(c, http.StatusBadRequest, "invalid request payload", nil)
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to an HTTP status, a message and
// optional details safe to show the client
func MapErrorToHTTP(err error) (int, string, any) {
	var (
		verr   *biddingerrors.ValidationError
		tooLow *biddingerrors.BidTooLowError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid bid details", verr.Fields
	case errors.As(err, &tooLow):
		return http.StatusConflict, tooLow.Error(), nil
	case errors.Is(err, biddingerrors.ErrAuctionNotFound), errors.Is(err, biddingerrors.ErrAuctionNotOpen):
		return http.StatusNotFound, "auction not found or closed", nil
	default:
		return http.StatusInternalServerError, "internal server error", nil
	}
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
