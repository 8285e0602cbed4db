package dto

import "github.com/thereayou/article-chat/internal/models"

// SendRequest тело POST /rooms/:id/messages
type SendRequest struct {
	Content string      `json:"content" binding:"required"`
	Kind    models.Kind `json:"kind,omitempty"`
}

// SendPayload data кадра send по WebSocket
type SendPayload struct {
	RoomID  string      `json:"room_id"`
	Content string      `json:"content"`
	Kind    models.Kind `json:"kind,omitempty"`
}

type HistoryResponse struct {
	Messages []models.MessageResponse `json:"messages"`
	HasMore  bool                     `json:"has_more"`
}

func NewHistoryResponse(msgs []models.ChatMessage, hasMore bool) HistoryResponse {
	out := make([]models.MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.NewMessageResponse(m))
	}
	return HistoryResponse{Messages: out, HasMore: hasMore}
}

type ErrorResponse struct {
	Error string `json:"error"`
}
