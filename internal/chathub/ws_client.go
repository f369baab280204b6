package chathub

import (
	"context"
	"errors"
	"sync"
	"time"

	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	errClientClosed = errors.New("client closed")
	errSendBuffer   = errors.New("send buffer full")
)

// WebSocketClient реалізує Conn поверх gorilla WebSocket. Кадри з readPump
// обробляються по одному, тож події одного з'єднання не змагаються між собою.
type WebSocketClient struct {
	id      string
	userID  string
	conn    *websocket.Conn
	handler *Handler
	hub     *Hub

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewWebSocketClient(conn *websocket.Conn, userID string, handler *Handler, hub *Hub) *WebSocketClient {
	return &WebSocketClient{
		id:      uuid.New().String(),
		userID:  userID,
		conn:    conn,
		handler: handler,
		hub:     hub,
		send:    make(chan []byte, config.SendBufferSize),
	}
}

func (c *WebSocketClient) ID() string     { return c.id }
func (c *WebSocketClient) UserID() string { return c.userID }

// Deliver ніколи не блокує: клієнта, який не встигає, від'єднуємо.
func (c *WebSocketClient) Deliver(ev models.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closed = true
		close(c.send)
		return errSendBuffer
	}
}

// Close зупиняє writePump, а той закриває сокет.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run підключає клієнта до хаба, реєструє присутність і обробляє кадри, доки
// сокет не закриється. Прибирання виконується на виході.
func (c *WebSocketClient) Run(ctx context.Context) {
	c.hub.Attach(c)
	if err := c.handler.Connect(ctx, c.id, c.userID); err != nil {
		log.Error().Err(err).Str("user", c.userID).Msg("connect failed")
		c.hub.Detach(c.id)
		c.conn.Close()
		return
	}

	go c.writePump()
	c.readPump(ctx)

	// контекст запиту може бути вже скасований
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.EventTimeout)
	defer cancel()
	if err := c.handler.Disconnect(cleanupCtx, c.id); err != nil {
		log.Error().Err(err).Str("user", c.userID).Msg("disconnect cleanup failed")
	}
	c.hub.Detach(c.id)
	c.Close()
}

func (c *WebSocketClient) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn", c.id).Msg("websocket read failed")
			}
			return
		}

		evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.EventTimeout)
		c.handler.HandleEvent(evCtx, c.id, c.userID, message)
		cancel()
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
