package handler

import (
	"net/http"
	"time"

	"strangerchat/backend/internal/chathub"
	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Користувачі анонімні, їх визначає query-параметр userId.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket переводить запит на WebSocket і обслуговує з'єднання до його
// закриття. Запит без userId одразу закривається кадром policy violation.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID := c.Query("userId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if userID == "" {
		metrics.ConnectionsRejected.Inc()
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "userId is required")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(config.WriteWait))
		conn.Close()
		return
	}

	client := chathub.NewWebSocketClient(conn, userID, h.Chat, h.Hub)
	client.Run(c.Request.Context())
}
