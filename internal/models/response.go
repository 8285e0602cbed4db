package models

import "time"

// MessageResponse тело сообщения в брокере и в живом топике
type MessageResponse struct {
	Type      Kind      `json:"type"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessageResponse(msg ChatMessage) MessageResponse {
	return MessageResponse{
		Type:      msg.Kind,
		RoomID:    msg.RoomID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
}

// CountResponse тело обновления счетчика участников
type CountResponse struct {
	RoomID string `json:"room_id"`
	Count  int64  `json:"count"`
}
