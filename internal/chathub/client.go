package chathub

import (
	"context"

	"strangerchat/backend/internal/models"
)

// Conn is one live connection of any kind (WebSocket, Telegram chat).
// The hub only needs to identify it and hand it events.
type Conn interface {
	// ID returns the connection handle registered in presence.
	ID() string
	// UserID returns the user that opened the connection.
	UserID() string
	// Deliver queues ev for the client. It must not block.
	Deliver(ev models.Event) error
	// Close shuts down the connection.
	Close()
}

// Transport is everything the protocol handler may do to connections.
// Connections are addressed by handle and rooms by id; the handler never
// sees the registry behind them.
type Transport interface {
	Join(ctx context.Context, connID, roomID string) error
	Leave(ctx context.Context, connID, roomID string) error
	Notify(ctx context.Context, connID string, ev models.Event) error
	Broadcast(ctx context.Context, roomID string, ev models.Event) error
}
