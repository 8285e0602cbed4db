package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/thereayou/article-chat/internal/models"
)

const insertBatchSize = 100

// SaveMessages вставляет пачку сообщений одной транзакцией: либо все строки, либо ни одной
func (d *Database) SaveMessages(ctx context.Context, msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	rows := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, models.NewMessageRow(m))
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("save %d messages: %w", len(rows), err)
	}
	return nil
}

// GetRoomMessages возвращает последние limit сообщений комнаты, новые первыми
func (d *Database) GetRoomMessages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	var rows []models.Message

	err := d.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("room %s messages: %w", roomID, err)
	}

	out := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ChatMessage())
	}
	return out, nil
}
