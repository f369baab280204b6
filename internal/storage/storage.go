package storage

import (
	"context"
	"errors"
	"time"

	"strangerchat/backend/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrNotFound повертається, коли кімнати не існує.
	ErrNotFound = errors.New("record not found")
	// ErrRoomInactive повертається при записі повідомлення в завершену кімнату.
	ErrRoomInactive = errors.New("room is not active")
)

// Storage описує постійне сховище кімнат і повідомлень.
type Storage interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoomByID(ctx context.Context, roomID string) (*models.Room, error)
	GetActiveRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	ListActiveRoomIDs(ctx context.Context) ([]string, error)
	// EndRoom ставить IsActive у false і записує EndedAt. Повертає true,
	// лише якщо перехід виконав саме цей виклик.
	EndRoom(ctx context.Context, roomID string, at time.Time) (bool, error)

	SaveMessage(ctx context.Context, msg *models.Message) error
	GetRoomMessages(ctx context.Context, roomID string, limit, skip int) ([]models.Message, error)
	MarkRoomRead(ctx context.Context, roomID, readerID string) (int64, error)
}

// Service реалізує Storage поверх GORM.
type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// AutoMigrate створює або оновлює таблиці rooms і messages.
func (s *Service) AutoMigrate() error {
	return s.DB.AutoMigrate(&models.Room{}, &models.Message{})
}

// Ping перевіряє з'єднання з базою даних.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Service) CreateRoom(ctx context.Context, room *models.Room) error {
	return s.DB.WithContext(ctx).Create(room).Error
}

func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := s.DB.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetActiveRoomsForUser повертає активні кімнати користувача, новіші першими.
func (s *Service) GetActiveRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("created_at desc").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListActiveRoomIDs повертає ID усіх кімнат, які ще активні.
func (s *Service) ListActiveRoomIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.Room{}).
		Where("is_active = ?", true).
		Pluck("id", &ids).Error
	return ids, err
}

// EndRoom змінює лише активні кімнати, тож паралельні виклики сходяться до
// одного кінцевого стану, а EndedAt записується один раз.
func (s *Service) EndRoom(ctx context.Context, roomID string, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND is_active = ?", roomID, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"ended_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SaveMessage оновлює прев'ю кімнати і вставляє повідомлення в одній
// транзакції. Оновлення прев'ю водночас перевіряє, що кімната активна: якщо її
// завершили паралельно, нічого не записується.
func (s *Service) SaveMessage(ctx context.Context, msg *models.Message) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Room{}).
			Where("id = ? AND is_active = ?", msg.RoomID, true).
			Update("last_message", msg.Content)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Room{}).Where("id = ?", msg.RoomID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrRoomInactive
		}
		return tx.Create(msg).Error
	})
}

// GetRoomMessages повертає сторінку повідомлень кімнати, новіші першими.
func (s *Service) GetRoomMessages(ctx context.Context, roomID string, limit, skip int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at desc").
		Order("id desc").
		Limit(limit).
		Offset(skip).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRoomRead позначає прочитаними всі непрочитані повідомлення кімнати,
// надіслані не readerID. Повертає кількість оновлених повідомлень.
func (s *Service) MarkRoomRead(ctx context.Context, roomID, readerID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND sender_id <> ? AND is_read = ?", roomID, readerID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
