package presence

import (
	"context"
	"sync"
)

// memoryStore держит присутствие в памяти процесса. Подходит для одного инстанса
type memoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> conns
	conns map[string]string              // conn -> room
}

func NewMemoryStore() Store {
	return &memoryStore{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]string),
	}
}

func (s *memoryStore) Add(_ context.Context, roomID, connID string) (int64, *Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var previous *Change
	if old, ok := s.conns[connID]; ok && old != roomID {
		n := s.removeUnsafe(old, connID)
		previous = &Change{RoomID: old, Count: n}
	}

	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		s.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	s.conns[connID] = roomID

	return int64(len(members)), previous, nil
}

func (s *memoryStore) Remove(_ context.Context, connID string) (Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.conns[connID]
	if !ok {
		return Change{}, false, nil
	}
	n := s.removeUnsafe(roomID, connID)
	return Change{RoomID: roomID, Count: n}, true, nil
}

func (s *memoryStore) Count(_ context.Context, roomID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rooms[roomID])), nil
}

func (s *memoryStore) removeUnsafe(roomID, connID string) int64 {
	delete(s.conns, connID)

	members, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.rooms, roomID)
		return 0
	}
	return int64(len(members))
}
