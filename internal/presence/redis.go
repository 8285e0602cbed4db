package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis layout:
// room:{id}:presence   SET<conn_id>
// presence:reverse     HASH conn_id -> room_id

const (
	reverseKey = "presence:reverse"

	// попыток, если соединение переехало между HGET и скриптом
	maxScriptAttempts = 5
)

var errPresenceContended = errors.New("presence entry changed concurrently")

func roomKey(roomID string) string {
	return fmt.Sprintf("room:%s:presence", roomID)
}

// Атомарное добавление соединения. Все ключи передаются в KEYS.
// KEYS[1] = reverse hash, KEYS[2] = новая комната, KEYS[3] = прежняя комната (если есть)
// ARGV[1] = conn id, ARGV[2] = room id, ARGV[3] = ожидаемая прежняя комната или ""
// Возвращает {count, previousRoom, previousCount}; count = -1, если прежняя комната не совпала
const luaJoin = `
local conn     = ARGV[1]
local room     = ARGV[2]
local expected = ARGV[3]

local prev = redis.call("HGET", KEYS[1], conn)
if not prev then
  prev = ""
end
if prev ~= expected then
  return {-1, prev, 0}
end

local prevCount = 0
if prev ~= "" and prev ~= room then
  redis.call("SREM", KEYS[3], conn)
  prevCount = redis.call("SCARD", KEYS[3])
else
  prev = ""
end

redis.call("SADD", KEYS[2], conn)
redis.call("HSET", KEYS[1], conn, room)
return {redis.call("SCARD", KEYS[2]), prev, prevCount}
`

// Атомарное удаление соединения.
// KEYS[1] = reverse hash, KEYS[2] = комната соединения
// ARGV[1] = conn id, ARGV[2] = ожидаемая комната
// Возвращает {room, count}; room = "" если соединение неизвестно, count = -1 если комната не совпала
const luaLeave = `
local conn = ARGV[1]

local room = redis.call("HGET", KEYS[1], conn)
if not room then
  return {"", 0}
end
if room ~= ARGV[2] then
  return {room, -1}
end

redis.call("SREM", KEYS[2], conn)
redis.call("HDEL", KEYS[1], conn)
return {room, redis.call("SCARD", KEYS[2])}
`

// redisStore присутствие в Redis, общее для всех инстансов.
// Пустое множество Redis удаляет сам, поэтому комната исчезает вместе с последним соединением.
// Комната соединения читается до скрипта, а скрипт проверяет, что она не изменилась
type redisStore struct {
	client *redis.Client
	join   *redis.Script
	leave  *redis.Script
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{
		client: client,
		join:   redis.NewScript(luaJoin),
		leave:  redis.NewScript(luaLeave),
	}
}

func (s *redisStore) currentRoom(ctx context.Context, connID string) (string, error) {
	room, err := s.client.HGet(ctx, reverseKey, connID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return room, err
}

func (s *redisStore) Add(ctx context.Context, roomID, connID string) (int64, *Change, error) {
	for attempt := 0; attempt < maxScriptAttempts; attempt++ {
		prev, err := s.currentRoom(ctx, connID)
		if err != nil {
			return 0, nil, fmt.Errorf("presence join %s: %w", roomKey(roomID), err)
		}

		keys := []string{reverseKey, roomKey(roomID)}
		if prev != "" && prev != roomID {
			keys = append(keys, roomKey(prev))
		}

		res, err := s.join.Run(ctx, s.client, keys, connID, roomID, prev).Slice()
		if err != nil {
			return 0, nil, fmt.Errorf("presence join %s: %w", roomKey(roomID), err)
		}
		if len(res) != 3 {
			return 0, nil, fmt.Errorf("presence join %s: unexpected reply %v", roomKey(roomID), res)
		}

		count, _ := res[0].(int64)
		if count < 0 {
			continue
		}
		var previous *Change
		if moved, _ := res[1].(string); moved != "" {
			prevCount, _ := res[2].(int64)
			previous = &Change{RoomID: moved, Count: prevCount}
		}
		return count, previous, nil
	}
	return 0, nil, fmt.Errorf("presence join %s: %w", roomKey(roomID), errPresenceContended)
}

func (s *redisStore) Remove(ctx context.Context, connID string) (Change, bool, error) {
	for attempt := 0; attempt < maxScriptAttempts; attempt++ {
		room, err := s.currentRoom(ctx, connID)
		if err != nil {
			return Change{}, false, fmt.Errorf("presence leave %s: %w", connID, err)
		}
		if room == "" {
			return Change{}, false, nil
		}

		res, err := s.leave.Run(ctx, s.client, []string{reverseKey, roomKey(room)}, connID, room).Slice()
		if err != nil {
			return Change{}, false, fmt.Errorf("presence leave %s: %w", connID, err)
		}
		if len(res) != 2 {
			return Change{}, false, fmt.Errorf("presence leave %s: unexpected reply %v", connID, res)
		}

		roomID, _ := res[0].(string)
		if roomID == "" {
			return Change{}, false, nil
		}
		count, _ := res[1].(int64)
		if count < 0 {
			continue
		}
		return Change{RoomID: roomID, Count: count}, true, nil
	}
	return Change{}, false, fmt.Errorf("presence leave %s: %w", connID, errPresenceContended)
}

func (s *redisStore) Count(ctx context.Context, roomID string) (int64, error) {
	n, err := s.client.SCard(ctx, roomKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", roomKey(roomID), err)
	}
	return n, nil
}
