// Package api serves the pipeline's status surface over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/lock"
	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/sirupsen/logrus"
)

// Pipeline is the part of the engine the API exposes.
type Pipeline interface {
	Status(ctx context.Context) engine.Status
	Positions(all bool) []position.Position
	ForceReset(ctx context.Context) (bool, error)
	Submit(ctx context.Context, sig market.Signal) (engine.ExecutionResult, error)
}

type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
	// Token, when set, must be sent as "Authorization: Bearer <token>" on
	// POST /reset and POST /signals.
	Token string
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	pipeline   Pipeline
	config     ServerConfig
	log        logrus.FieldLogger
}

// NewServer wires the routes. metrics may be nil, in which case
// /metrics is not served.
func NewServer(config ServerConfig, p Pipeline, metrics http.Handler, log logrus.FieldLogger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	s := &Server{
		router:   router,
		pipeline: p,
		config:   config,
		log:      log.WithField("component", "api"),
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/positions", s.handlePositions)
	writes := router.Group("/", requireToken(config.Token))
	writes.POST("/reset", s.handleReset)
	writes.POST("/signals", s.handleSubmit)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithField("addr", addr).Info("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.pipeline.Status(c.Request.Context()))
}

func (s *Server) handlePositions(c *gin.Context) {
	all := c.Query("all") == "true"
	successResponse(c, s.pipeline.Positions(all))
}

func (s *Server) handleReset(c *gin.Context) {
	changed, err := s.pipeline.ForceReset(c.Request.Context())
	if err != nil {
		s.log.WithError(err).Error("force reset failed")
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, gin.H{
		"reset":  changed,
		"status": s.pipeline.Status(c.Request.Context()),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var sig market.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid signal: "+err.Error())
		return
	}
	res, err := s.pipeline.Submit(c.Request.Context(), sig)
	if err != nil {
		s.log.WithError(err).WithField("market_id", sig.MarketID).Error("submit failed")
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	successResponse(c, res)
}

// statusFor maps cycle-fatal errors onto HTTP: a busy lock is transient,
// everything else is a server fault.
func statusFor(err error) int {
	if errors.Is(err, lock.ErrTimeout) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// requireToken rejects requests without the bearer token. An empty token
// lets every request through.
func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			errorResponse(c, http.StatusUnauthorized, "missing or invalid token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("request")
	}
}
