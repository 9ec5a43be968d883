package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/docchat/internal/api/chat"
	"github.com/liliang-cn/docchat/internal/api/middleware"
	"github.com/liliang-cn/docchat/internal/api/sessions"
	"github.com/liliang-cn/docchat/internal/metrics"
	"github.com/liliang-cn/docchat/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const bannerMessage = "AI Chatbot API is running with temporary PDF memory and SQLite (History)!"

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey         string
	AllowOrigins   []string
	MaxUploadBytes int64
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

// SetupRouter sets up the Gin router
func SetupRouter(
	chatService *service.ChatService,
	documentService *service.DocumentService,
	sessionService *service.SessionService,
	cfg RouterConfig,
) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	if cfg.MaxUploadBytes > 0 {
		// multipart parts above this spill to temp files
		r.MaxMultipartMemory = cfg.MaxUploadBytes
	}

	sessionHandler := sessions.NewHandler(sessionService)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": bannerMessage})
	})
	r.GET("/health", sessionHandler.Health)

	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// Chat and history API (API key when configured)
	protected := r.Group("")
	protected.Use(middleware.Auth(cfg.APIKey))

	chat.NewHandler(chatService, documentService, logger).RegisterRoutes(protected)
	sessionHandler.RegisterRoutes(protected)

	return r
}
