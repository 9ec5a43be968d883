package sessions

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/docchat/internal/api/response"
	"github.com/liliang-cn/docchat/internal/service"
)

// Handler handles session history requests
type Handler struct {
	sessionService *service.SessionService
}

// NewHandler creates a new sessions handler
func NewHandler(sessionService *service.SessionService) *Handler {
	return &Handler{sessionService: sessionService}
}

// RegisterRoutes registers session routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)
}

func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.sessionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessionService.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Session '%s' deleted successfully", id)})
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.sessionService.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// Health reports server and database status
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionService.Health(c.Request.Context()))
}
