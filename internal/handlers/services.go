package handlers

import (
	"context"

	"github.com/thereayou/article-chat/internal/models"
)

// ChatService входящий пайплайн и история
type ChatService interface {
	Send(ctx context.Context, msg models.ChatMessage) error
	History(ctx context.Context, roomID string) ([]models.ChatMessage, bool, error)
}

// PresenceTracker учет участников комнат
type PresenceTracker interface {
	Join(ctx context.Context, roomID, connID string) (int64, error)
	Leave(ctx context.Context, connID string) (string, int64, bool, error)
	Count(ctx context.Context, roomID string) (int64, error)
	Peek(ctx context.Context, roomID string) (int64, error)
}
