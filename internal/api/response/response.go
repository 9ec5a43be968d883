// Package response writes the JSON error bodies shared by all handlers
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/docchat/internal/domain"
)

// StatusFor maps a service error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error aborts the request with a {"detail": ...} body
func Error(c *gin.Context, err error) {
	status := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "Internal server error: " + detail
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// Detail aborts the request with status and a plain message
func Detail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
