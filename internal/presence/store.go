package presence

import "context"

// Store хранит множества соединений по комнатам и обратный индекс соединение -> комната.
// Комната существует в хранилище только пока ее множество не пусто
type Store interface {
	// Add добавляет соединение в комнату. Если соединение числилось в другой комнате,
	// оно сначала удаляется оттуда, и эта комната возвращается в previous
	Add(ctx context.Context, roomID, connID string) (count int64, previous *Change, err error)
	// Remove удаляет соединение. ok=false, если соединение нигде не числится
	Remove(ctx context.Context, connID string) (change Change, ok bool, err error)
	Count(ctx context.Context, roomID string) (int64, error)
}

// Change новое число участников комнаты после изменения
type Change struct {
	RoomID string
	Count  int64
}
