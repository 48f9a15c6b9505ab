package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"outreach/classification"
	"outreach/composer"
	"outreach/internal/config"
	"outreach/ledger"
	"outreach/messenger"
	"outreach/server/handlers"
	"outreach/server/middleware"
)

// Server HTTP сервер кампании
type Server struct {
	config     *config.Config
	ledger     *ledger.Ledger
	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer создает сервер со всеми зависимостями кампании
func NewServer(cfg *config.Config) (*Server, error) {
	campaignLedger, err := ledger.Open(cfg.LedgerDatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open campaign ledger: %w", err)
	}

	aiClient := classification.NewAIClient(classification.AIClientConfig{
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		BaseURL: cfg.AIBaseURL,
		Timeout: cfg.AITimeout,
	})
	classifier := classification.NewClassifier(aiClient, campaignLedger, classification.ClassifierConfig{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxAttempts:         cfg.AIMaxAttempts,
		InitialDelay:        time.Second,
		MaxDelay:            30 * time.Second,
	})

	messageComposer, err := composer.NewComposer(cfg.SendUnknownOverride)
	if err != nil {
		campaignLedger.Close()
		return nil, fmt.Errorf("failed to build composer: %w", err)
	}

	channel := messenger.NewWhatsAppGateway(messenger.WhatsAppGatewayConfig{
		BaseURL: cfg.WhatsAppGatewayURL,
		Timeout: cfg.WhatsAppTimeout,
	})

	campaignHandler := handlers.NewCampaignHandler(cfg, campaignLedger, classifier, messageComposer, channel)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(middleware.LoggerMiddleware())
	engine.Use(middleware.RecoveryMiddleware())

	registerRoutes(engine, campaignHandler)

	return &Server{
		config: cfg,
		ledger: campaignLedger,
		engine: engine,
		httpServer: &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: engine,
		},
	}, nil
}

// registerRoutes регистрирует маршруты API кампании
func registerRoutes(engine *gin.Engine, h *handlers.CampaignHandler) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	{
		api.POST("/contacts/import", h.HandleImportContacts)
		api.GET("/contacts/:id", h.HandleGetContact)
		api.POST("/campaign/classify", h.HandleClassify)
		api.POST("/campaign/compose", h.HandleCompose)
		api.POST("/campaign/run", h.HandleRunCampaign)
		api.POST("/campaign/stop", h.HandleStopCampaign)
		api.GET("/campaign/stats", h.HandleStats)
		api.GET("/export", h.HandleExport)
	}
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	log.Printf("[Server] Listening on :%s", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown мягко останавливает сервер и закрывает журнал
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("[Server] Shutting down...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return s.ledger.Close()
}

// Engine возвращает роутер для тестов
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
