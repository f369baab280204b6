package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"strangerchat/backend/internal/models"
	"strangerchat/backend/internal/storage"
)

// RoomService creates, queries and ends two-party rooms.
type RoomService struct {
	Storage storage.Storage
	now     func() time.Time
}

func NewRoomService(s storage.Storage) *RoomService {
	return &RoomService{Storage: s, now: time.Now}
}

// CreateRoom always starts a fresh active room; existing rooms between the
// same pair are not reused.
func (s *RoomService) CreateRoom(ctx context.Context, participants []string) (*models.Room, error) {
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: room must have at least 2 participants", ErrInvalidInput)
	}
	if len(participants) > 2 {
		return nil, fmt.Errorf("%w: room must have exactly 2 participants", ErrInvalidInput)
	}
	a, b := participants[0], participants[1]
	if a == "" || b == "" {
		return nil, fmt.Errorf("%w: participant id is empty", ErrInvalidInput)
	}
	if a == b {
		return nil, fmt.Errorf("%w: participants must be distinct", ErrInvalidInput)
	}

	room := &models.Room{User1ID: a, User2ID: b, IsActive: true}
	if err := s.Storage.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

func (s *RoomService) GetRoomByID(ctx context.Context, roomID string) (*models.Room, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", ErrInvalidInput)
	}
	room, err := s.Storage.GetRoomByID(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return room, nil
}

// GetUserRooms returns the active rooms of the user, newest first. An empty
// result means the user is free to be matched.
func (s *RoomService) GetUserRooms(ctx context.Context, userID string) ([]models.Room, error) {
	rooms, err := s.Storage.GetActiveRoomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get rooms for %s: %w", userID, err)
	}
	return rooms, nil
}

// EndRoom closes the room on behalf of one of its participants. The bool
// is true only for the call that made the room inactive; ending a room that
// is already closed returns it unchanged with false.
func (s *RoomService) EndRoom(ctx context.Context, roomID, userID string) (*models.Room, bool, error) {
	room, err := s.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	if !room.HasParticipant(userID) {
		return nil, false, ErrForbidden
	}
	if !room.IsActive {
		return room, false, nil
	}

	at := s.now().UTC()
	changed, err := s.Storage.EndRoom(ctx, roomID, at)
	if err != nil {
		return nil, false, fmt.Errorf("end room %s: %w", roomID, err)
	}
	if !changed {
		// lost the race to another end; report the stored terminal state
		room, err = s.GetRoomByID(ctx, roomID)
		return room, false, err
	}

	room.IsActive = false
	room.EndedAt = &at
	return room, true, nil
}
