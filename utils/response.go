package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse sends a structured JSON response
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError sends a structured error response. Details are included only when
// non-nil; internal error text never reaches the client.
func JSONError(c *gin.Context, status int, message string, details any) {
	body := gin.H{
		"status":  status,
		"message": message,
	}
	if details != nil {
		body["error"] = details
	}
	c.AbortWithStatusJSON(status, body)
}
