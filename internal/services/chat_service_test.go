package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thereayou/article-chat/internal/cache"
	"github.com/thereayou/article-chat/internal/eventlog"
	"github.com/thereayou/article-chat/internal/models"
)

type chatFixture struct {
	svc       *ChatService
	cache     *cache.RecentCache
	log       *eventlog.Log
	publisher *fakePublisher
	store     *fakeStore
}

func newChatFixture(t *testing.T, maxSize int) (*chatFixture, func()) {
	t.Helper()
	mr, client := newRedis(t)

	f := &chatFixture{
		cache:     cache.NewRecentCache(client, time.Hour),
		log:       eventlog.NewLog(client, eventlog.Options{Retention: time.Hour}),
		publisher: &fakePublisher{},
		store:     &fakeStore{},
	}
	f.svc = NewChatService(f.cache, f.log, f.publisher, f.store, maxSize)
	return f, mr.Close
}

func TestSend_ChatIsCachedLoggedAndPublished(t *testing.T) {
	f, _ := newChatFixture(t, 100)
	ctx := context.Background()

	msg := chatMsg(t, "A1", 1)
	if err := f.svc.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	cached, err := f.cache.Read(ctx, "A1", 100)
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if len(cached) != 1 || cached[0].Content != "m1" {
		t.Fatalf("cached = %+v", cached)
	}
	if n, _ := f.log.Len(ctx, "A1"); n != 1 {
		t.Fatalf("log len = %d, want 1", n)
	}
	if len(f.publisher.msgs) != 1 {
		t.Fatalf("published %d, want 1", len(f.publisher.msgs))
	}
}

func TestSend_JoinIsOnlyPublished(t *testing.T) {
	f, _ := newChatFixture(t, 100)
	ctx := context.Background()

	join, err := models.NewChatMessage("A1", "bob", "", models.KindJoin, time.Time{})
	if err != nil {
		t.Fatalf("NewChatMessage: %v", err)
	}
	if err := f.svc.Send(ctx, join); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n, _ := f.cache.Len(ctx, "A1"); n != 0 {
		t.Fatalf("cache len = %d, want 0", n)
	}
	if n, _ := f.log.Len(ctx, "A1"); n != 0 {
		t.Fatalf("log len = %d, want 0", n)
	}
	if len(f.publisher.msgs) != 1 || f.publisher.msgs[0].Kind != models.KindJoin {
		t.Fatalf("published = %+v", f.publisher.msgs)
	}
}

func TestSend_InvalidMessageRejected(t *testing.T) {
	f, _ := newChatFixture(t, 100)

	err := f.svc.Send(context.Background(), models.ChatMessage{RoomID: "A1", Kind: models.KindChat})
	if !errors.Is(err, models.ErrInvalidMessage) {
		t.Fatalf("err = %v, want ErrInvalidMessage", err)
	}
	if len(f.publisher.msgs) != 0 {
		t.Fatal("invalid message was published")
	}
}

func TestSend_PublishFailureDoesNotFailSend(t *testing.T) {
	f, _ := newChatFixture(t, 100)
	f.publisher.err = errors.New("broker down")

	if err := f.svc.Send(context.Background(), chatMsg(t, "A1", 1)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n, _ := f.log.Len(context.Background(), "A1"); n != 1 {
		t.Fatalf("log len = %d, want 1", n)
	}
}

func TestSend_StoreFailureStillPublishes(t *testing.T) {
	f, stop := newChatFixture(t, 100)
	stop()

	err := f.svc.Send(context.Background(), chatMsg(t, "A1", 1))
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PipelineError", err)
	}
	if perr.RoomID != "A1" || perr.Op != "send" {
		t.Fatalf("pipeline error = %+v", perr)
	}
	if len(f.publisher.msgs) != 1 {
		t.Fatalf("published %d, want 1", len(f.publisher.msgs))
	}
}

func TestHistory_FromCache(t *testing.T) {
	f, _ := newChatFixture(t, 2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := f.svc.Send(ctx, chatMsg(t, "A1", i)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	msgs, hasMore, err := f.svc.History(ctx, "A1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "m3" || msgs[1].Content != "m2" {
		t.Fatalf("history = %+v", msgs)
	}
	if !hasMore {
		t.Fatal("hasMore = false, want true")
	}
	if f.store.historyCalls != 0 {
		t.Fatal("store consulted on cache hit")
	}
}

func TestHistory_FillsCacheFromStore(t *testing.T) {
	f, _ := newChatFixture(t, 2)
	ctx := context.Background()

	// новые первыми, как отдает GetRoomMessages
	f.store.history = []models.ChatMessage{chatMsg(t, "A1", 3), chatMsg(t, "A1", 2), chatMsg(t, "A1", 1)}

	msgs, hasMore, err := f.svc.History(ctx, "A1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "m3" || !hasMore {
		t.Fatalf("history = %+v hasMore=%v", msgs, hasMore)
	}

	msgs, hasMore, err = f.svc.History(ctx, "A1")
	if err != nil {
		t.Fatalf("second History: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "m2" || !hasMore {
		t.Fatalf("cached history = %+v hasMore=%v", msgs, hasMore)
	}
	if f.store.historyCalls != 1 {
		t.Fatalf("store calls = %d, want 1", f.store.historyCalls)
	}
}

func TestHistory_FillKeepsMessageSentDuringLoad(t *testing.T) {
	f, _ := newChatFixture(t, 10)
	ctx := context.Background()

	f.store.history = []models.ChatMessage{chatMsg(t, "A1", 2), chatMsg(t, "A1", 1)}
	f.store.onHistory = func() {
		if err := f.svc.Send(ctx, chatMsg(t, "A1", 9)); err != nil {
			t.Errorf("Send during fill: %v", err)
		}
	}

	msgs, _, err := f.svc.History(ctx, "A1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) == 0 || msgs[0].Content != "m9" {
		t.Fatalf("history = %+v, want m9 first", msgs)
	}

	cached, err := f.cache.Read(ctx, "A1", 10)
	if err != nil {
		t.Fatalf("cache Read: %v", err)
	}
	if len(cached) != 1 || cached[0].Content != "m9" {
		t.Fatalf("cache = %+v, want only m9", cached)
	}
}

func TestHistory_EmptyRoom(t *testing.T) {
	f, _ := newChatFixture(t, 100)

	msgs, hasMore, err := f.svc.History(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 0 || hasMore {
		t.Fatalf("history = %+v hasMore=%v", msgs, hasMore)
	}
}
