// Package handler exposes the chat over HTTP: the WebSocket endpoint, the
// room history API and operational endpoints.
package handler

import (
	"context"
	"net/http"

	"strangerchat/backend/internal/chat"
	"strangerchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Handler holds everything the HTTP routes need.
type Handler struct {
	Chat      *chathub.Handler
	Hub       *chathub.Hub
	Rooms     *chat.RoomService
	Messages  *chat.MessageService
	JWTSecret []byte
	Checks    map[string]HealthCheck
}

func NewHandler(chatHandler *chathub.Handler, hub *chathub.Hub, jwtSecret string) *Handler {
	return &Handler{
		Chat:      chatHandler,
		Hub:       hub,
		Rooms:     chatHandler.Rooms,
		Messages:  chatHandler.Messages,
		JWTSecret: []byte(jwtSecret),
		Checks:    make(map[string]HealthCheck),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rooms := r.Group("/chat/rooms", h.RequireAuth())
	rooms.GET("", h.ListRooms)
	rooms.GET("/:roomId", h.GetRoom)
	rooms.GET("/:roomId/messages", h.ListMessages)
	rooms.POST("/:roomId/end", h.EndRoom)
	rooms.POST("/:roomId/messages/read", h.MarkRead)
}

// Health pings every registered backing service.
func (h *Handler) Health(c *gin.Context) {
	failed := gin.H{}
	for name, check := range h.Checks {
		if err := check(c.Request.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
