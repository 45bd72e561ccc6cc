package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"trading-engine/internal/engine"
	"trading-engine/internal/events"
	"trading-engine/internal/fusion"
	"trading-engine/internal/ledger"
	"trading-engine/internal/logging"
	"trading-engine/internal/position"
)

// TradeHistory serves past trades for the history endpoint.
type TradeHistory interface {
	GetTradeHistory(ctx context.Context, limit int) ([]*ledger.TradeRecord, error)
}

// Server is the HTTP control surface over one engine.
type Server struct {
	engine  *engine.Engine
	history TradeHistory
	bus     *events.Bus
	hub     *WSHub
	router  *gin.Engine
	http    *http.Server
	log     *logging.Logger
}

// Config holds server settings.
type Config struct {
	Addr         string
	AllowOrigins []string
}

// NewServer wires routes and the websocket event bridge.
func NewServer(cfg Config, eng *engine.Engine, history TradeHistory, bus *events.Bus) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		engine:  eng,
		history: history,
		bus:     bus,
		hub:     NewWSHub(),
		router:  router,
		log:     logging.Default().WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/analysis", s.handleAnalysis)
		v1.GET("/patterns", s.handlePatterns)
		v1.GET("/trades", s.handleTrades)

		eng := v1.Group("/engine")
		{
			eng.POST("/stop", s.handleStop)
			eng.POST("/emergency-stop", s.handleEmergencyStop)
			eng.POST("/force-signal", s.handleForceSignal)
			eng.POST("/resume", s.handleResume)
		}
	}
}

// Start runs the event bridge and serves HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.bridgeEvents(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown failed", "error", err.Error())
		}
	}()

	s.log.Info("control API listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// bridgeEvents forwards every engine event to websocket clients.
func (s *Server) bridgeEvents(ctx context.Context) {
	stream := s.bus.SubscribeAll(256)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-stream:
			s.hub.BroadcastEvent(ev)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"dropped": s.bus.Dropped(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) handleAnalysis(c *gin.Context) {
	snap := s.engine.Analysis()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no market analysis available yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handlePatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": s.engine.Patterns()})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "trade history not available"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	trades, err := s.history.GetTradeHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.engine.Stop(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrNotRunning) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator emergency stop"
	}

	if err := s.engine.EmergencyStop(req.Reason); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrNotRunning) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "emergency stop executed"})
}

func (s *Server) handleForceSignal(c *gin.Context) {
	var req struct {
		Side string `json:"side" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side is required (BUY or SELL)"})
		return
	}

	side := fusion.SignalType(req.Side)
	err := s.engine.ForceSignal(side)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": fmt.Sprintf("forced %s executed", side)})
	case errors.Is(err, position.ErrPositionOpen):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleResume(c *gin.Context) {
	s.engine.ResumeTrading()
	c.JSON(http.StatusOK, gin.H{"status": "auto-trading resumed"})
}
