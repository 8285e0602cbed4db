package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/article-chat/internal/handlers/dto"
	"github.com/thereayou/article-chat/internal/middleware"
	"github.com/thereayou/article-chat/internal/models"
	"github.com/thereayou/article-chat/internal/services"
	"github.com/thereayou/article-chat/pkg/log"
)

type HTTPMessageHandler struct {
	chat     ChatService
	presence PresenceTracker
}

func NewHTTPMessageHandler(chat ChatService, presence PresenceTracker) *HTTPMessageHandler {
	return &HTTPMessageHandler{chat: chat, presence: presence}
}

// GetRoomMessages последние сообщения комнаты, новые первыми
func (h *HTTPMessageHandler) GetRoomMessages(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("id"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid room id"})
		return
	}

	msgs, hasMore, err := h.chat.History(c.Request.Context(), roomID)
	if err != nil {
		logger := log.Ctx(c.Request.Context())
		logger.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("history failed")
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "failed to get messages"})
		return
	}

	c.JSON(http.StatusOK, dto.NewHistoryResponse(msgs, hasMore))
}

// SendMessage отправляет сообщение через HTTP (альтернатива WebSocket)
func (h *HTTPMessageHandler) SendMessage(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
		return
	}

	var req dto.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	msg, err := models.NewChatMessage(c.Param("id"), userID, req.Content, req.Kind, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.chat.Send(c.Request.Context(), msg); err != nil {
		var perr *services.PipelineError
		switch {
		case errors.Is(err, models.ErrInvalidMessage):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		case errors.As(err, &perr):
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "message not stored"})
		default:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to send message"})
		}
		return
	}

	c.JSON(http.StatusCreated, models.NewMessageResponse(msg))
}

// GetPresence текущее число участников комнаты
func (h *HTTPMessageHandler) GetPresence(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("id"))

	count, err := h.presence.Peek(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, models.CountResponse{RoomID: roomID, Count: count})
}
