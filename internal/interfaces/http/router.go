package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/Opposition-Intelligence/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree. Nil handlers leave their routes unregistered.
type RouterConfig struct {
	Similarity *handlers.SimilarityHandler
	Prediction *handlers.PredictionHandler
	Precedent  *handlers.PrecedentHandler
	Health     *handlers.HealthHandler

	Metrics        middleware.HTTPMetrics
	MetricsHandler http.Handler
	MetricsPath    string

	Logger      logging.Logger
	Logging     middleware.LoggingConfig
	MaxBodySize int64
	CORS        middleware.CORSConfig
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the gin engine. Global middleware runs in the order
// RequestID, Recovery, RequestLogging, Metrics, CORS. Body limits and rate
// limiting apply to /api/v1 only so probes and scrapes are never throttled.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logCfg := cfg.Logging
	if logCfg.SkipPaths == nil && logCfg.SlowThreshold == 0 {
		logCfg = middleware.DefaultLoggingConfig()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.RequestLogging(logger, logCfg),
		middleware.Metrics(cfg.Metrics),
	)
	if cors := middleware.CORS(cfg.CORS); cors != nil {
		r.Use(cors)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Code: "not_found", Message: "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, handlers.ErrorResponse{Code: "input_validation", Message: "method not allowed"})
	})

	if cfg.Health != nil {
		r.GET("/healthz", cfg.Health.Liveness)
		r.GET("/readyz", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/api/v1")
	if cfg.MaxBodySize > 0 {
		api.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	api.Use(middleware.RateLimit(cfg.RateLimiter))

	registerSimilarityRoutes(api, cfg.Similarity)
	registerPredictionRoutes(api, cfg.Prediction)
	if cfg.Precedent != nil {
		api.POST("/precedents", cfg.Precedent.Precedents)
	}
	return r
}

func registerSimilarityRoutes(g *gin.RouterGroup, h *handlers.SimilarityHandler) {
	if h == nil {
		return
	}
	g.POST("/mark_similarity", h.MarkSimilarity)
	g.POST("/gs_similarity", h.GsSimilarity)
	g.POST("/visual_similarity", h.VisualSimilarity)
	g.POST("/aural_similarity", h.AuralSimilarity)
}

func registerPredictionRoutes(g *gin.RouterGroup, h *handlers.PredictionHandler) {
	if h == nil {
		return
	}
	g.POST("/case_prediction", h.CasePrediction)
	g.POST("/full_case_prediction", h.FullCasePrediction)
}
