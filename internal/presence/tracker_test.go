package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type countEvent struct {
	room  string
	count int64
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []countEvent
}

func (n *recordingNotifier) NotifyCount(_ context.Context, roomID string, count int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, countEvent{room: roomID, count: count})
	return nil
}

func (n *recordingNotifier) snapshot() []countEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]countEvent(nil), n.events...)
}

// forEachStore прогоняет тест на обоих вариантах хранилища
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		fn(t, NewRedisStore(client))
	})
}

func TestTracker_JoinLeaveSequence(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		n := &recordingNotifier{}
		tr := NewTracker(store, n)

		if _, err := tr.Join(ctx, "B1", "c1"); err != nil {
			t.Fatalf("join c1: %v", err)
		}
		if _, err := tr.Join(ctx, "B1", "c2"); err != nil {
			t.Fatalf("join c2: %v", err)
		}
		room, count, ok, err := tr.Leave(ctx, "c1")
		if err != nil || !ok {
			t.Fatalf("leave c1: ok=%v err=%v", ok, err)
		}
		if room != "B1" || count != 1 {
			t.Fatalf("leave c1 = (%s, %d), want (B1, 1)", room, count)
		}

		want := []countEvent{{"B1", 1}, {"B1", 2}, {"B1", 1}}
		got := n.snapshot()
		if len(got) != len(want) {
			t.Fatalf("events = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("event %d = %v, want %v", i, got[i], want[i])
			}
		}
	})
}

func TestTracker_JoinIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		tr := NewTracker(store, nil)

		for i := 0; i < 3; i++ {
			count, err := tr.Join(ctx, "A1", "c1")
			if err != nil {
				t.Fatalf("join: %v", err)
			}
			if count != 1 {
				t.Fatalf("join #%d count = %d, want 1", i, count)
			}
		}
	})
}

func TestTracker_LeaveTwiceIsNoop(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		n := &recordingNotifier{}
		tr := NewTracker(store, n)

		if _, err := tr.Join(ctx, "A1", "c1"); err != nil {
			t.Fatalf("join: %v", err)
		}
		if _, count, ok, err := tr.Leave(ctx, "c1"); err != nil || !ok || count != 0 {
			t.Fatalf("first leave: count=%d ok=%v err=%v", count, ok, err)
		}
		if _, _, ok, err := tr.Leave(ctx, "c1"); err != nil || ok {
			t.Fatalf("second leave: ok=%v err=%v, want no-op", ok, err)
		}
		if _, _, ok, err := tr.Leave(ctx, "never-joined"); err != nil || ok {
			t.Fatalf("unknown leave: ok=%v err=%v, want no-op", ok, err)
		}

		if got := len(n.snapshot()); got != 2 {
			t.Fatalf("emitted %d counts, want 2", got)
		}

		count, err := tr.Count(ctx, "A1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 0 {
			t.Fatalf("count = %d, want 0", count)
		}
	})
}

func TestTracker_SwitchRoomEmitsBoth(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		n := &recordingNotifier{}
		tr := NewTracker(store, n)

		if _, err := tr.Join(ctx, "A1", "c1"); err != nil {
			t.Fatalf("join A1: %v", err)
		}
		if _, err := tr.Join(ctx, "A1", "c2"); err != nil {
			t.Fatalf("join A1: %v", err)
		}
		if _, err := tr.Join(ctx, "B1", "c1"); err != nil {
			t.Fatalf("join B1: %v", err)
		}

		want := []countEvent{{"A1", 1}, {"A1", 2}, {"A1", 1}, {"B1", 1}}
		got := n.snapshot()
		if len(got) != len(want) {
			t.Fatalf("events = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("event %d = %v, want %v", i, got[i], want[i])
			}
		}

		room, _, ok, err := tr.Leave(ctx, "c1")
		if err != nil || !ok || room != "B1" {
			t.Fatalf("leave c1 = (%s, %v, %v), want B1", room, ok, err)
		}
	})
}

func TestTracker_RejectsEmptyIDs(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), nil)
	if _, err := tr.Join(context.Background(), " ", "c1"); err != ErrEmptyID {
		t.Fatalf("err = %v, want ErrEmptyID", err)
	}
}

func TestRedisStore_EmptyRoomDisappears(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client)
	if _, _, err := store.Add(ctx, "A1", "c1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !mr.Exists(roomKey("A1")) {
		t.Fatal("presence set missing after join")
	}
	if _, _, err := store.Remove(ctx, "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if mr.Exists(roomKey("A1")) {
		t.Fatal("presence set still exists after last leave")
	}
	if got := mr.HGet(reverseKey, "c1"); got != "" {
		t.Fatalf("reverse entry = %q, want empty", got)
	}
}

func TestRedisStore_ScriptsRejectStaleRoom(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(client).(*redisStore)

	// соединение уже в B1, а вызывающий думает, что оно нигде
	mr.HSet(reverseKey, "c1", "B1")
	mr.SAdd(roomKey("B1"), "c1")

	res, err := s.join.Run(ctx, client, []string{reverseKey, roomKey("A1")}, "c1", "A1", "").Slice()
	if err != nil {
		t.Fatalf("join script: %v", err)
	}
	if n, _ := res[0].(int64); n != -1 {
		t.Fatalf("join reply = %v, want conflict", res)
	}
	if mr.Exists(roomKey("A1")) {
		t.Fatal("join with stale room must not touch A1")
	}

	res, err = s.leave.Run(ctx, client, []string{reverseKey, roomKey("A1")}, "c1", "A1").Slice()
	if err != nil {
		t.Fatalf("leave script: %v", err)
	}
	if n, _ := res[1].(int64); n != -1 {
		t.Fatalf("leave reply = %v, want conflict", res)
	}
	if got := mr.HGet(reverseKey, "c1"); got != "B1" {
		t.Fatalf("reverse entry = %q, want B1", got)
	}

	// обычный путь перечитывает комнату и переносит соединение
	count, prev, err := s.Add(ctx, "A1", "c1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if count != 1 || prev == nil || prev.RoomID != "B1" || prev.Count != 0 {
		t.Fatalf("add = %d %+v, want 1 and B1/0", count, prev)
	}
}

func TestMemoryStore_ConcurrentChurn(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn := string(rune('a'+id%26)) + string(rune('0'+id/26))
			tr.Join(ctx, "A1", conn)
			tr.Leave(ctx, conn)
		}(i)
	}
	wg.Wait()

	count, err := tr.Count(ctx, "A1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d after churn, want 0", count)
	}
}
