package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus88/soulbound-signature/internal/api/handlers"
	"github.com/prometheus88/soulbound-signature/internal/api/middleware"
	"github.com/prometheus88/soulbound-signature/internal/config"
	"github.com/prometheus88/soulbound-signature/internal/identity"
	"github.com/prometheus88/soulbound-signature/internal/payment"
	"github.com/prometheus88/soulbound-signature/internal/services"
	"github.com/prometheus88/soulbound-signature/pkg/metrics"
	"go.uber.org/zap"
)

type Router struct {
	engine        *gin.Engine
	logger        *zap.Logger
	metrics       *metrics.MetricsCollector
	docHandler    *handlers.DocumentHandler
	signHandler   *handlers.SigningHandler
	paymentMW     *middleware.PaymentMiddleware
	reqMiddleware *middleware.RequestMiddleware
}

func NewRouter(
	cfg *config.Configuration,
	logger *zap.Logger,
	metricsCollector *metrics.MetricsCollector,
	docService *services.DocumentService,
	signingService *services.SigningService,
	oracle identity.Oracle,
	facilitator payment.Facilitator,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	paymentMW := middleware.NewPaymentMiddleware(
		cfg.Payment,
		facilitator,
		cfg.Server.BaseURL+"/documents",
		logger,
		metricsCollector,
	)

	docHandler := handlers.NewDocumentHandler(docService, logger)
	signHandler := handlers.NewSigningHandler(signingService, docService, oracle, logger)

	return &Router{
		engine:        engine,
		logger:        logger,
		metrics:       metricsCollector,
		docHandler:    docHandler,
		signHandler:   signHandler,
		paymentMW:     paymentMW,
		reqMiddleware: reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "soulbound-signature"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	r.engine.POST("/documents", r.paymentMW.RequirePayment(), r.docHandler.CreateDocument)
	r.engine.GET("/documents/:id", r.docHandler.GetDocument)
	r.engine.PUT("/documents/:id/fields", r.docHandler.AddFields)
	r.engine.POST("/documents/:id/distribute", r.docHandler.DistributeDocument)
	r.engine.POST("/documents/:id/cancel", r.docHandler.CancelDocument)
	r.engine.DELETE("/documents/:id", r.docHandler.DeleteDocument)
	r.engine.GET("/documents/:id/download", r.docHandler.DownloadDocument)

	r.engine.GET("/sign/:token", r.signHandler.GetSession)
	r.engine.POST("/sign/:token/field/:fieldId", r.signHandler.SignField)
	r.engine.DELETE("/sign/:token/field/:fieldId", r.signHandler.UnsignField)
	r.engine.POST("/sign/:token/complete", r.signHandler.CompleteSigning)

	r.engine.GET("/inbox/:wallet", r.signHandler.GetInbox)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("Starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
