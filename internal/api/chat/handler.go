package chat

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/docchat/internal/api/response"
	"github.com/liliang-cn/docchat/internal/domain"
	"github.com/liliang-cn/docchat/internal/service"
	"go.uber.org/zap"
)

// Handler handles document upload and chat streaming requests
type Handler struct {
	chatService     *service.ChatService
	documentService *service.DocumentService
	logger          *zap.Logger
}

// NewHandler creates a new chat handler
func NewHandler(chatService *service.ChatService, documentService *service.DocumentService, logger *zap.Logger) *Handler {
	return &Handler{
		chatService:     chatService,
		documentService: documentService,
		logger:          logger,
	}
}

// RegisterRoutes registers chat routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/upload-pdf", h.UploadPDF)
	r.GET("/pdfs", h.ListPDFs)
	r.POST("/chat-stream", h.ChatStream)
}

// UploadPDF extracts and caches an uploaded PDF
func (h *Handler) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Detail(c, http.StatusBadRequest, "A PDF file is required in the 'file' form field")
		return
	}

	src, err := file.Open()
	if err != nil {
		response.Error(c, fmt.Errorf("failed to open uploaded file: %w", err))
		return
	}
	defer src.Close()

	result, err := h.documentService.Upload(c.Request.Context(), file.Filename, src)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListPDFs lists the cached PDFs
func (h *Handler) ListPDFs(c *gin.Context) {
	c.JSON(http.StatusOK, h.documentService.List())
}

// ChatStream relays a model reply as server-sent events
func (h *Handler) ChatStream(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Detail(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	turn, err := h.chatService.Prepare(ctx, &req)
	if err != nil {
		h.logger.Warn("chat stream not started", zap.String("session_id", req.SessionID), zap.Error(err))
		response.Error(c, err)
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	turn.Run(ctx, func(chunk domain.StreamChunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
}
