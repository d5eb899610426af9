// Package handlers exposes the daemon's HTTP command API and WebSocket
// event stream: gin routing, rate-limit middleware, and structured
// per-request logging over session lifecycle commands.
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dogwalking/workout-engine/internal/engine"
	"github.com/dogwalking/workout-engine/internal/models"
	"github.com/dogwalking/workout-engine/internal/services"
)

// EventRepublisher republishes a session's EventBus onto its MQTT events
// topic for the session's lifetime. Satisfied by *mqttutil.Client; kept as
// an interface here to avoid handlers importing mqttutil directly.
type EventRepublisher interface {
	RepublishEvents(ctx context.Context, sessionID string)
}

// HTTPHandler implements the session command API: creating,
// pausing, resuming, and stopping sessions, adjusting stride, and reading
// persisted history.
type HTTPHandler struct {
	manager *services.Manager
	logger  *zap.Logger
	ws      *WebSocketHandler
	mqtt    EventRepublisher
}

// NewHTTPHandler constructs a handler backed by manager. ws is attached to
// the same gin engine so /ws shares one HTTP server with the command API.
// mqtt may be nil, in which case sessions are not republished to MQTT.
func NewHTTPHandler(manager *services.Manager, ws *WebSocketHandler, mqtt EventRepublisher, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, ws: ws, mqtt: mqtt, logger: logger}
}

// buildRateLimitMiddleware limits each client IP to limiter-per-second with
// burst headroom, using a per-IP token bucket.
func buildRateLimitMiddleware(perSecond float64, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		mu.Lock()
		lim, ok := limiters[ip]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters[ip] = lim
		}
		mu.Unlock()

		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// RegisterRoutes wires every handler onto engine, applying rate limiting to
// the command API only (health/metrics stay unthrottled for scrapers).
func (h *HTTPHandler) RegisterRoutes(engineRouter *gin.Engine, rateLimitPerSecond float64, rateLimitBurst int) {
	engineRouter.GET("/health", h.handleHealth)
	engineRouter.GET("/ws", func(c *gin.Context) { h.ws.HandleConnection(c.Writer, c.Request) })

	api := engineRouter.Group("/sessions")
	api.Use(buildRateLimitMiddleware(rateLimitPerSecond, rateLimitBurst))
	api.POST("", h.handleCreateSession)
	api.POST("/:id/pause", h.handlePause)
	api.POST("/:id/resume", h.handleResume)
	api.POST("/:id/stop", h.handleStop)
	api.POST("/:id/stride", h.handleSetStride)
	api.GET("/history", h.handleHistory)
	api.DELETE("/history/:id", h.handleDeleteHistory)
}

type createSessionRequest struct {
	SessionID     string                 `json:"session_id" binding:"required"`
	Mode          models.Mode            `json:"mode"`
	Goal          *models.GoalSpec       `json:"goal"`
	LapDistanceM  float64                `json:"lap_distance_m"`
	HeightM       float64                `json:"height_m"`
	GhostTargetID *string                `json:"ghost_target_id"`
	SafeZone      *engine.SafeZoneConfig `json:"safe_zone"`
}

func (h *HTTPHandler) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := engine.StartCommand{
		Mode:         req.Mode,
		LapDistanceM: req.LapDistanceM,
		HeightM:      req.HeightM,
		SafeZone:     req.SafeZone,
	}
	if req.Goal != nil {
		cmd.Goal = *req.Goal
	}
	if req.GhostTargetID != nil {
		target, err := h.manager.ResolveGhostTarget(c.Request.Context(), *req.GhostTargetID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cmd.GhostTarget = target
	}

	nowMs := time.Now().UnixMilli()
	entry, err := h.manager.CreateSession(c.Request.Context(), req.SessionID, cmd, nowMs)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	_ = entry
	if h.mqtt != nil {
		go h.mqtt.RepublishEvents(context.Background(), req.SessionID)
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": req.SessionID})
}

func (h *HTTPHandler) handlePause(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Pause(c.Request.Context(), id, time.Now().UnixMilli()); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) handleResume(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Resume(c.Request.Context(), id, time.Now().UnixMilli()); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) handleStop(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Stop(c.Request.Context(), id, time.Now().UnixMilli()); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type setStrideRequest struct {
	StrideM float64 `json:"stride_m" binding:"required"`
}

func (h *HTTPHandler) handleSetStride(c *gin.Context) {
	id := c.Param("id")
	var req setStrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.SetStride(id, req.StrideM); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) handleHistory(c *gin.Context) {
	modeParam := c.DefaultQuery("mode", "run")
	var mode models.Mode
	if err := mode.UnmarshalJSON([]byte(`"` + modeParam + `"`)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records := h.manager.History(c.Request.Context(), mode)
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *HTTPHandler) handleDeleteHistory(c *gin.Context) {
	id := c.Param("id")
	h.manager.DeleteHistoryEntry(c.Request.Context(), id)
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
