package presence

import (
	"context"
	"errors"
	"strings"

	"github.com/thereayou/article-chat/pkg/log"
)

var ErrEmptyID = errors.New("presence: empty room or connection id")

// CountNotifier получает новое число участников комнаты
type CountNotifier interface {
	NotifyCount(ctx context.Context, roomID string, count int64) error
}

// Tracker ведет присутствие поверх Store и рассылает счетчики после каждого изменения
type Tracker struct {
	store    Store
	notifier CountNotifier
}

func NewTracker(store Store, notifier CountNotifier) *Tracker {
	return &Tracker{store: store, notifier: notifier}
}

// Join добавляет соединение в комнату. Повторный Join той же пары ничего не меняет,
// но счетчик рассылается снова
func (t *Tracker) Join(ctx context.Context, roomID, connID string) (int64, error) {
	roomID, connID = strings.TrimSpace(roomID), strings.TrimSpace(connID)
	if roomID == "" || connID == "" {
		return 0, ErrEmptyID
	}

	count, previous, err := t.store.Add(ctx, roomID, connID)
	if err != nil {
		return 0, err
	}
	if previous != nil {
		t.emit(ctx, previous.RoomID, previous.Count)
	}
	t.emit(ctx, roomID, count)
	return count, nil
}

// Leave убирает соединение из его комнаты. Для неизвестного соединения ok=false и
// ничего не рассылается
func (t *Tracker) Leave(ctx context.Context, connID string) (roomID string, count int64, ok bool, err error) {
	change, ok, err := t.store.Remove(ctx, connID)
	if err != nil || !ok {
		return "", 0, false, err
	}
	t.emit(ctx, change.RoomID, change.Count)
	return change.RoomID, change.Count, true, nil
}

// Count возвращает число участников и рассылает его
func (t *Tracker) Count(ctx context.Context, roomID string) (int64, error) {
	count, err := t.store.Count(ctx, roomID)
	if err != nil {
		return 0, err
	}
	t.emit(ctx, roomID, count)
	return count, nil
}

// Peek как Count, но без рассылки (для REST)
func (t *Tracker) Peek(ctx context.Context, roomID string) (int64, error) {
	return t.store.Count(ctx, roomID)
}

func (t *Tracker) emit(ctx context.Context, roomID string, count int64) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.NotifyCount(ctx, roomID, count); err != nil {
		logger := log.Ctx(ctx)
		logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Int64("count", count).Msg("presence count not delivered")
	}
}
