package services

import (
	"context"

	"github.com/thereayou/article-chat/internal/models"
)

// MessageStore реляционное хранилище сообщений
type MessageStore interface {
	// SaveMessages сохраняет всю пачку атомарно
	SaveMessages(ctx context.Context, msgs []models.ChatMessage) error
	// GetRoomMessages последние limit сообщений комнаты, новые первыми
	GetRoomMessages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error)
}
