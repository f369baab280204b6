package handler

import (
	"errors"
	"net/http"

	"strangerchat/backend/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"statusCode": status,
		"message":    message,
	})
}

// failErr maps the chat error taxonomy onto HTTP statuses.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		fail(c, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrRoomInactive):
		fail(c, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}
