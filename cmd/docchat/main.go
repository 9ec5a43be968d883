package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/docchat/internal/api"
	"github.com/liliang-cn/docchat/internal/config"
	"github.com/liliang-cn/docchat/internal/extract"
	"github.com/liliang-cn/docchat/internal/llm"
	"github.com/liliang-cn/docchat/internal/logging"
	"github.com/liliang-cn/docchat/internal/metrics"
	"github.com/liliang-cn/docchat/internal/repository"
	"github.com/liliang-cn/docchat/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize conversation store
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	sessionRepo := repository.NewSessionRepository(db)
	pdfCache := repository.NewPDFCache(extract.NewPDFExtractor())

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	// Upstream model client
	client := llm.NewClient(llm.Options{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Referer: cfg.LLM.Referer,
		Title:   cfg.LLM.Title,
		Timeout: cfg.LLM.Timeout,
	}, logger.Named("llm"))

	// Initialize services
	builder := service.NewContextBuilder(
		cfg.Chat.SystemPrompt,
		cfg.Chat.MaxPDFTokens,
		cfg.Chat.MaxHistoryTokens,
		pdfCache,
		logger.Named("context"),
	)

	chatService := service.NewChatService(
		sessionRepo,
		builder,
		client,
		m,
		logger.Named("chat"),
		cfg.Chat.FinalizeTimeout,
	)

	documentService := service.NewDocumentService(
		pdfCache,
		cfg.Upload.MaxBytes,
		m,
		logger.Named("documents"),
	)

	sessionService := service.NewSessionService(
		sessionRepo,
		pdfCache,
		logger.Named("sessions"),
	)

	// Setup router
	router := api.SetupRouter(chatService, documentService, sessionService, api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		AllowOrigins:   cfg.Server.AllowOrigins,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Logger:         logger.Named("http"),
		Metrics:        m,
		Gatherer:       reg,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	printBanner()

	// Start server in goroutine
	go func() {
		logger.Info("Starting DocChat server",
			zap.String("address", cfg.Address()),
			zap.String("model", cfg.LLM.Model),
			zap.String("database", cfg.Database.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown; in-flight streams get the finalize window to persist
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second+cfg.Chat.FinalizeTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func printBanner() {
	banner := `
    ____             ________          __
   / __ \____  _____/ ____/ /_  ____ _/ /_
  / / / / __ \/ ___/ /   / __ \/ __ '/ __/
 / /_/ / /_/ / /__/ /___/ / / / /_/ / /_
/_____/\____/\___/\____/_/ /_/\__,_/\__/
`

	fmt.Println(banner)
}
