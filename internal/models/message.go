package models

import "time"

// Message сохраненное в Postgres сообщение чата. Строки только добавляются
type Message struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	RoomID  string    `gorm:"not null;index:idx_chat_messages_room_sent,priority:1"`
	Sender  string    `gorm:"not null"`
	Content string    `gorm:"not null"`
	SentAt  time.Time `gorm:"not null;index:idx_chat_messages_room_sent,priority:2"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// NewMessageRow переводит сообщение пайплайна в строку таблицы
func NewMessageRow(m ChatMessage) Message {
	return Message{
		RoomID:  m.RoomID,
		Sender:  m.Sender,
		Content: m.Content,
		SentAt:  m.Timestamp,
	}
}

// ChatMessage восстанавливает сообщение пайплайна из строки
func (m Message) ChatMessage() ChatMessage {
	return ChatMessage{
		RoomID:    m.RoomID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.SentAt,
		Kind:      KindChat,
	}
}
