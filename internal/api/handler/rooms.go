package handler

import (
	"fmt"
	"strconv"

	"strangerchat/backend/internal/chat"
	"strangerchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// ListRooms returns the caller's active rooms.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Rooms.GetUserRooms(c.Request.Context(), caller(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, rooms)
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.participantRoom(c)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, room)
}

// ListMessages pages through a room's history, newest first.
func (h *Handler) ListMessages(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		failErr(c, err)
		return
	}
	skip, err := intQuery(c, "skip")
	if err != nil {
		failErr(c, err)
		return
	}
	room, err := h.participantRoom(c)
	if err != nil {
		failErr(c, err)
		return
	}
	msgs, err := h.Messages.GetRoomMessages(c.Request.Context(), room.ID, limit, skip)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, msgs)
}

func (h *Handler) EndRoom(c *gin.Context) {
	room, err := h.Chat.EndRoom(c.Request.Context(), caller(c), c.Param("roomId"), "api")
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, room)
}

func (h *Handler) MarkRead(c *gin.Context) {
	room, err := h.participantRoom(c)
	if err != nil {
		failErr(c, err)
		return
	}
	n, err := h.Messages.MarkRead(c.Request.Context(), room.ID, caller(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"roomId": room.ID, "updated": n})
}

// participantRoom loads the :roomId room and checks the caller is in it.
func (h *Handler) participantRoom(c *gin.Context) (*models.Room, error) {
	room, err := h.Rooms.GetRoomByID(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(caller(c)) {
		return nil, chat.ErrForbidden
	}
	return room, nil
}

// intQuery reads an optional integer query parameter; absent means 0.
func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", chat.ErrInvalidInput, name)
	}
	return n, nil
}
