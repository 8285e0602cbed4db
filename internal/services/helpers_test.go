package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/thereayou/article-chat/internal/models"
)

var errStoreDown = errors.New("store down")

// fakeStore MessageStore в памяти
type fakeStore struct {
	mu           sync.Mutex
	saved        []models.ChatMessage
	saveCalls    int
	failSaves    int
	history      []models.ChatMessage
	historyCalls int

	// entered/release позволяют задержать SaveMessages
	entered chan struct{}
	release chan struct{}

	// onHistory вызывается внутри GetRoomMessages до ответа
	onHistory func()
}

func (s *fakeStore) SaveMessages(_ context.Context, msgs []models.ChatMessage) error {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveCalls++
	if s.failSaves > 0 {
		s.failSaves--
		return errStoreDown
	}
	s.saved = append(s.saved, msgs...)
	return nil
}

func (s *fakeStore) GetRoomMessages(_ context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	if s.onHistory != nil {
		s.onHistory()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.historyCalls++
	var out []models.ChatMessage
	for _, m := range s.history {
		if m.RoomID == roomID && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg models.ChatMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func chatMsg(t *testing.T, room string, i int) models.ChatMessage {
	t.Helper()
	ts := time.Date(2024, 1, 1, 12, 0, i, 0, time.UTC)
	msg, err := models.NewChatMessage(room, "alice", fmt.Sprintf("m%d", i), models.KindChat, ts)
	if err != nil {
		t.Fatalf("NewChatMessage: %v", err)
	}
	return msg
}
