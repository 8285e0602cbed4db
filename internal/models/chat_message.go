package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind тип сообщения пайплайна
type Kind string

const (
	KindChat  Kind = "CHAT"
	KindJoin  Kind = "JOIN"
	KindLeave Kind = "LEAVE"
)

var ErrInvalidMessage = errors.New("invalid message")

// ValidationError сообщение отклонено при создании
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// ChatMessage сообщение, которое проходит через кэш, лог и брокер
type ChatMessage struct {
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
}

// NewChatMessage проверяет поля и создает сообщение.
// Пустой kind означает CHAT, нулевое время заменяется текущим
func NewChatMessage(roomID, sender, content string, kind Kind, ts time.Time) (ChatMessage, error) {
	roomID = strings.TrimSpace(roomID)
	sender = strings.TrimSpace(sender)

	if roomID == "" {
		return ChatMessage{}, &ValidationError{Field: "room_id", Reason: "must not be empty"}
	}
	if sender == "" {
		return ChatMessage{}, &ValidationError{Field: "sender", Reason: "must not be empty"}
	}

	if kind == "" {
		kind = KindChat
	}
	kind = Kind(strings.ToUpper(string(kind)))
	if !kind.Valid() {
		return ChatMessage{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown value %q", kind)}
	}

	if ts.IsZero() {
		ts = time.Now()
	}

	return ChatMessage{
		RoomID:    roomID,
		Sender:    sender,
		Content:   content,
		Timestamp: ts.UTC(),
		Kind:      kind,
	}, nil
}

func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindJoin, KindLeave:
		return true
	}
	return false
}

// Durable только CHAT попадает в кэш и лог, JOIN/LEAVE идут только в эфир
func (m ChatMessage) Durable() bool {
	return m.Kind == KindChat
}

// Validate повторная проверка для сообщений, пришедших из хранилища
func (m ChatMessage) Validate() error {
	_, err := NewChatMessage(m.RoomID, m.Sender, m.Content, m.Kind, m.Timestamp)
	return err
}
