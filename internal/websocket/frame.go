package websocket

import (
	"encoding/json"
	"time"
)

// FrameType тип кадра протокола
type FrameType string

const (
	// От клиента
	TypeSubscribe   FrameType = "subscribe"
	TypeUnsubscribe FrameType = "unsubscribe"
	TypeSend        FrameType = "send"
	TypePong        FrameType = "pong"

	// От сервера
	TypeMessage FrameType = "message"
	TypeError   FrameType = "error"
	TypePing    FrameType = "ping"
)

// Frame кадр в обе стороны
type Frame struct {
	Type        FrameType       `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type errorBody struct {
	Error string `json:"error"`
}
