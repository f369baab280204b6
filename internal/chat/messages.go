package chat

import (
	"context"
	"errors"
	"fmt"

	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/models"
	"strangerchat/backend/internal/storage"
)

// MessageService persists messages into active rooms and serves history.
type MessageService struct {
	Storage storage.Storage
	Rooms   *RoomService
}

func NewMessageService(s storage.Storage, rooms *RoomService) *MessageService {
	return &MessageService{Storage: s, Rooms: rooms}
}

// SaveMessage stores a message sent by a participant of an active room and
// updates the room's lastMessage preview.
func (s *MessageService) SaveMessage(ctx context.Context, roomID, senderID, content string) (*models.Message, error) {
	if roomID == "" || senderID == "" || content == "" {
		return nil, fmt.Errorf("%w: room id and content are required", ErrInvalidInput)
	}

	room, err := s.Rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(senderID) {
		return nil, ErrForbidden
	}
	if !room.IsActive {
		return nil, ErrRoomInactive
	}

	msg := &models.Message{RoomID: roomID, SenderID: senderID, Content: content}
	err = s.Storage.SaveMessage(ctx, msg)
	switch {
	case errors.Is(err, storage.ErrRoomInactive):
		return nil, ErrRoomInactive
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("save message in %s: %w", roomID, err)
	}
	return msg, nil
}

// GetRoomMessages returns a page of the room's history, newest first.
// A non-positive limit means the default page size; negative skip means 0.
func (s *MessageService) GetRoomMessages(ctx context.Context, roomID string, limit, skip int) ([]models.Message, error) {
	if _, err := s.Rooms.GetRoomByID(ctx, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = config.DefaultMessagesPageSize
	}
	if limit > config.MaxMessagesPageSize {
		limit = config.MaxMessagesPageSize
	}
	if skip < 0 {
		skip = 0
	}

	msgs, err := s.Storage.GetRoomMessages(ctx, roomID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", roomID, err)
	}
	return msgs, nil
}

// MarkRead flags the partner's unread messages in the room as read.
// Nothing to update is not an error.
func (s *MessageService) MarkRead(ctx context.Context, roomID, readerID string) (int64, error) {
	if roomID == "" || readerID == "" {
		return 0, fmt.Errorf("%w: room id is required", ErrInvalidInput)
	}
	n, err := s.Storage.MarkRoomRead(ctx, roomID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read in %s: %w", roomID, err)
	}
	return n, nil
}
