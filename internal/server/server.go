// Package server exposes the matching core over HTTP.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantora/fundmatch/internal/engine"
	"github.com/quantora/fundmatch/internal/events"
	"github.com/quantora/fundmatch/internal/marketmaker"
	"github.com/quantora/fundmatch/internal/navfeed"
	"github.com/quantora/fundmatch/internal/orderstore"
	"github.com/quantora/fundmatch/internal/pricing"
	"github.com/quantora/fundmatch/pkg/errors"
)

// Server wires the HTTP surface to the core services.
type Server struct {
	logger      *zap.Logger
	store       orderstore.Store
	registry    *engine.Registry
	marketMaker *marketmaker.Handler
	calc        *pricing.Calculator
	nav         navfeed.Source
	distributor *navfeed.Distributor
	hub         *navfeed.Hub
	publisher   *events.Publisher
}

// NewServer creates the HTTP server. distributor, hub and publisher are
// optional.
func NewServer(
	logger *zap.Logger,
	store orderstore.Store,
	registry *engine.Registry,
	marketMaker *marketmaker.Handler,
	calc *pricing.Calculator,
	nav navfeed.Source,
	distributor *navfeed.Distributor,
	hub *navfeed.Hub,
	publisher *events.Publisher,
) *Server {
	return &Server{
		logger:      logger,
		store:       store,
		registry:    registry,
		marketMaker: marketMaker,
		calc:        calc,
		nav:         nav,
		distributor: distributor,
		hub:         hub,
		publisher:   publisher,
	}
}

// Router builds the gin router.
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())
	router.Use(capabilityToken())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.hub != nil {
		router.GET("/ws/nav", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			engines := v1.Group("/engines")
			{
				engines.POST("", s.handleCreateEngine)
				engines.GET("", s.handleListEngines)
				engines.DELETE("", s.handleCleanupAll)
				engines.POST("/:id/orders", s.handleAddOrder)
				engines.POST("/:id/process", s.handleProcessAll)
				engines.GET("/:id/queue", s.handleQueueStatus)
				engines.DELETE("/:id/queue", s.handleClearQueue)
				engines.DELETE("/:id", s.handleCleanupEngine)
			}

			v1.POST("/market-maker/handle-remaining", s.handleMarketMakerRemaining)
			v1.POST("/calculate-nav", s.handleCalculateNAV)

			orders := v1.Group("/orders")
			{
				orders.POST("", s.handleCreateOrder)
				orders.GET("/:id", s.handleGetOrder)
				orders.DELETE("/:id", s.handleCancelOrder)
			}

			funds := v1.Group("/funds")
			{
				funds.GET("", s.handleListFunds)
				funds.GET("/:id/nav", s.handleNAVHistory)
				funds.POST("/:id/nav", s.handleNAVUpdate)
			}
		}
	}

	return router
}

// capabilityToken lifts a pre-validated bearer token into the request
// context. The core never derives credentials itself.
func capabilityToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if len(header) > len(prefix) && header[:len(prefix)] == prefix {
			c.Set("capability_token", header[len(prefix):])
		}
		c.Next()
	}
}

func respondError(c *gin.Context, err error) {
	kind := errors.KindOf(err)
	c.JSON(errors.HTTPStatus(err), gin.H{
		"error": gin.H{"kind": string(kind), "message": err.Error()},
	})
}
