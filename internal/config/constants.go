package config

import "time"

const (
	// Shared store keys
	OnlineUsersKey  = "onlineUsers"
	WaitingUsersKey = "waitingUsers"
	UserKeyPrefix   = "user:"
	SocketKeyPrefix = "socket:"
	RelayChannel    = "chathub:relay"

	// History pagination
	DefaultMessagesPageSize = 50
	MaxMessagesPageSize     = 200

	// WebSocket
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 4096
	SendBufferSize = 256

	// Store call budget for a single protocol event
	EventTimeout = 10 * time.Second
)
