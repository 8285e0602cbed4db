package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"

	"github.com/thereayou/article-chat/internal/broker"
	"github.com/thereayou/article-chat/internal/handlers/dto"
	"github.com/thereayou/article-chat/internal/middleware"
	"github.com/thereayou/article-chat/internal/models"
	"github.com/thereayou/article-chat/internal/presence"
	ws "github.com/thereayou/article-chat/internal/websocket"
)

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type wsFixture struct {
	url     string
	chat    *fakeChat
	tracker *presence.Tracker
	stop    context.CancelFunc
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	dest := broker.NewDestinations("", "")
	live := broker.NewMemoryLive()
	tracker := presence.NewTracker(presence.NewMemoryStore(), broker.NewCountPublisher(live, dest))
	chat := &fakeChat{}

	mh := NewMessageHandler(ctx, chat, tracker, dest)
	hub := ws.NewHub(mh.OnDisconnect)
	go hub.Run(ctx)
	go live.Subscribe(ctx, hub.Deliver)
	time.Sleep(20 * time.Millisecond)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "alice")
		c.Next()
	}, NewWebSocketHandler(hub, mh, nil).HandleWebSocket)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &wsFixture{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		chat:    chat,
		tracker: tracker,
		stop:    cancel,
	}
}

func readWSFrame(t *testing.T, conn *gws.Conn) ws.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f ws.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_SubscribeCountAndSend(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := gws.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := []ws.Frame{
		{Type: ws.TypeSubscribe, Destination: "/topic/room.A1"},
		{Type: ws.TypeSubscribe, Destination: "/topic/room.A1.count"},
	}
	for _, fr := range frames {
		if err := conn.WriteJSON(fr); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got := readWSFrame(t, conn)
	if got.Type != ws.TypeMessage || got.Destination != "/topic/room.A1.count" {
		t.Fatalf("frame = %+v", got)
	}
	var count models.CountResponse
	if err := json.Unmarshal(got.Data, &count); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if count.RoomID != "A1" || count.Count != 1 {
		t.Fatalf("count = %+v, want A1/1", count)
	}

	data, _ := json.Marshal(dto.SendPayload{RoomID: "A1", Content: "hello"})
	if err := conn.WriteJSON(ws.Frame{Type: ws.TypeSend, Destination: "/app/chat.send", Data: data}); err != nil {
		t.Fatalf("write send: %v", err)
	}
	eventually(t, func() bool { return f.chat.sentCount() == 1 }, "message sent")

	f.chat.mu.Lock()
	sent := f.chat.sent[0]
	f.chat.mu.Unlock()
	if sent.Sender != "alice" || sent.Content != "hello" || sent.Kind != models.KindChat {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestWebSocket_InvalidSendGetsError(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := gws.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(dto.SendPayload{Content: "no room"})
	if err := conn.WriteJSON(ws.Frame{Type: ws.TypeSend, Destination: "/app/chat.send", Data: data}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readWSFrame(t, conn)
	if got.Type != ws.TypeError {
		t.Fatalf("frame type = %q, want error", got.Type)
	}
	if f.chat.sentCount() != 0 {
		t.Fatal("invalid message reached the pipeline")
	}
}

func TestWebSocket_DisconnectLeavesPresence(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	conn, _, err := gws.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteJSON(ws.Frame{Type: ws.TypeSubscribe, Destination: "/topic/room.B1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, func() bool {
		n, _ := f.tracker.Peek(ctx, "B1")
		return n == 1
	}, "join")

	conn.Close()
	eventually(t, func() bool {
		n, _ := f.tracker.Peek(ctx, "B1")
		return n == 0
	}, "leave on disconnect")
}

func TestWebSocket_UnsubscribeLeavesPresence(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	conn, _, err := gws.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, fr := range []ws.Frame{
		{Type: ws.TypeSubscribe, Destination: "/topic/room.C1"},
		{Type: ws.TypeUnsubscribe, Destination: "/topic/room.C1"},
		{Type: ws.TypeSubscribe, Destination: "/topic/room.C1.count"},
	} {
		if err := conn.WriteJSON(fr); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got := readWSFrame(t, conn)
	var count models.CountResponse
	if err := json.Unmarshal(got.Data, &count); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if count.Count != 0 {
		t.Fatalf("count = %d, want 0", count.Count)
	}
	if n, _ := f.tracker.Peek(ctx, "C1"); n != 0 {
		t.Fatalf("peek = %d, want 0", n)
	}
}

func TestWebSocket_ShutdownLeavesPresence(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	conn, _, err := gws.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ws.Frame{Type: ws.TypeSubscribe, Destination: "/topic/room.D1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, func() bool {
		n, _ := f.tracker.Peek(ctx, "D1")
		return n == 1
	}, "join")

	f.stop()
	eventually(t, func() bool {
		n, _ := f.tracker.Peek(ctx, "D1")
		return n == 0
	}, "leave on shutdown")
}

func TestWebSocket_UnsubscribeOtherRoomKeepsPresence(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := gws.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, fr := range []ws.Frame{
		{Type: ws.TypeSubscribe, Destination: "/topic/room.E1"},
		{Type: ws.TypeUnsubscribe, Destination: "/topic/room.E2"},
		{Type: ws.TypeSubscribe, Destination: "/topic/room.E1.count"},
	} {
		if err := conn.WriteJSON(fr); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got := readWSFrame(t, conn)
	var count models.CountResponse
	if err := json.Unmarshal(got.Data, &count); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if count.RoomID != "E1" || count.Count != 1 {
		t.Fatalf("count = %+v, want E1/1", count)
	}
}
