package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room represents a 1-on-1 chat session between two anonymous users.
// Participants are fixed at creation; once IsActive becomes false the room
// is terminal and only kept for history.
type Room struct {
	// ID is the unique identifier for the room (UUID).
	ID string `gorm:"primaryKey;type:varchar(36)" json:"_id"`
	// User1ID is the user that requested the match.
	User1ID string `gorm:"type:text;not null;index" json:"-"`
	// User2ID is the user taken from the waiting queue.
	User2ID string `gorm:"type:text;not null;index" json:"-"`
	// IsActive indicates whether the chat room is currently active.
	IsActive bool `gorm:"not null;index" json:"isActive"`
	// LastMessage caches the content of the most recent message.
	LastMessage *string   `gorm:"type:text" json:"lastMessage"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	// EndedAt is set once, when the room is closed.
	EndedAt *time.Time `json:"endedAt"`

	// Participants mirrors User1ID/User2ID for API consumers.
	Participants []string `gorm:"-" json:"participants"`
}

// BeforeCreate generates a new UUID for the room if ID is not set yet.
func (r *Room) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.fillParticipants()
	return
}

// AfterFind populates Participants after the room is loaded.
func (r *Room) AfterFind(tx *gorm.DB) (err error) {
	r.fillParticipants()
	return
}

func (r *Room) fillParticipants() {
	r.Participants = []string{r.User1ID, r.User2ID}
}

// HasParticipant reports whether userID is one of the two participants.
func (r *Room) HasParticipant(userID string) bool {
	return userID != "" && (r.User1ID == userID || r.User2ID == userID)
}

// PartnerOf returns the other participant of the room.
// ok is false when userID is not a participant.
func (r *Room) PartnerOf(userID string) (partnerID string, ok bool) {
	switch userID {
	case r.User1ID:
		return r.User2ID, true
	case r.User2ID:
		return r.User1ID, true
	}
	return "", false
}
