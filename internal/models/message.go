package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Message is a single chat message persisted for a room.
// Everything except IsRead is immutable after creation.
type Message struct {
	// ID is a ULID, so lexical order follows creation order.
	ID       string    `gorm:"primaryKey;type:varchar(26)" json:"_id"`
	RoomID   string    `gorm:"type:varchar(36);not null;index:idx_room_sent" json:"roomId"`
	SenderID string    `gorm:"type:text;not null;index" json:"senderId"`
	Content  string    `gorm:"type:text;not null" json:"content"`
	IsRead   bool      `gorm:"not null;default:false" json:"isRead"`
	SentAt   time.Time `gorm:"not null;index:idx_room_sent" json:"sentAt"`
}

// BeforeCreate assigns the ULID and the send time.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	return
}
