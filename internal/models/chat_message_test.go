package models

import (
	"errors"
	"testing"
	"time"
)

func TestNewChatMessage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		sender  string
		kind    Kind
		wantErr string
	}{
		{name: "empty room", roomID: "", sender: "alice", wantErr: "room_id"},
		{name: "blank room", roomID: "   ", sender: "alice", wantErr: "room_id"},
		{name: "empty sender", roomID: "A1", sender: "", wantErr: "sender"},
		{name: "unknown kind", roomID: "A1", sender: "alice", kind: "TYPING", wantErr: "kind"},
		{name: "valid chat", roomID: "A1", sender: "alice"},
		{name: "lowercase join", roomID: "A1", sender: "alice", kind: "join"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChatMessage(tt.roomID, tt.sender, "hi", tt.kind, time.Time{})
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.wantErr {
				t.Fatalf("expected field %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewChatMessage_Defaults(t *testing.T) {
	msg, err := NewChatMessage(" A1 ", "alice", "hello", "", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.RoomID != "A1" {
		t.Errorf("room id not trimmed: %q", msg.RoomID)
	}
	if msg.Kind != KindChat {
		t.Errorf("expected CHAT by default, got %s", msg.Kind)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled")
	}
	if !msg.Durable() {
		t.Error("CHAT message must be durable")
	}
}

func TestChatMessage_DurableOnlyForChat(t *testing.T) {
	for _, kind := range []Kind{KindJoin, KindLeave} {
		msg, err := NewChatMessage("C1", "bob", "", kind, time.Now())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Durable() {
			t.Errorf("%s must not be durable", kind)
		}
	}
}

func TestMessageRow_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, _ := NewChatMessage("A1", "alice", "hello", KindChat, ts)

	row := NewMessageRow(msg)
	if row.ID != 0 {
		t.Errorf("id must be assigned by the database, got %d", row.ID)
	}
	if got := row.ChatMessage(); got != msg {
		t.Errorf("expected %+v, got %+v", msg, got)
	}
}
