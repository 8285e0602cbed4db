package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/thereayou/article-chat/internal/models"
)

const (
	DefaultMaxSize = 100
	DefaultTTL     = 72 * time.Hour

	flagTrue  = "true"
	flagFalse = "false"
)

var ErrMalformedEntry = errors.New("malformed cache entry")

// MalformedEntryError запись кэша не удалось разобрать
type MalformedEntryError struct {
	RoomID string
	Index  int
	Err    error
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("room %s: cache entry %d: %v", e.RoomID, e.Index, e.Err)
}

func (e *MalformedEntryError) Unwrap() []error {
	return []error{ErrMalformedEntry, e.Err}
}

// Redis layout:
// room:{id}:messages   LIST<json ChatMessage>  - последние сообщения, новые в начале
// room:{id}:hasMore    STRING "true"|"false"   - есть ли история за пределами окна

func messagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

func hasMoreKey(roomID string) string {
	return fmt.Sprintf("room:%s:hasMore", roomID)
}

// RecentCache ограниченный список последних сообщений комнаты
type RecentCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRecentCache(client *redis.Client, ttl time.Duration) *RecentCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RecentCache{client: client, ttl: ttl}
}

// Push добавляет сообщение в начало списка и обрезает его до maxSize.
// Флаг hasMore ставится, когда длина до обрезки превысила maxSize
func (c *RecentCache) Push(ctx context.Context, msg models.ChatMessage, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	listKey := messagesKey(msg.RoomID)
	flagKey := hasMoreKey(msg.RoomID)

	pipe := c.client.TxPipeline()
	pushCmd := pipe.LPush(ctx, listKey, data)
	pipe.LTrim(ctx, listKey, 0, int64(maxSize-1))
	pipe.Expire(ctx, listKey, c.ttl)
	flagCmd := pipe.Get(ctx, flagKey)
	pipe.Expire(ctx, flagKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("push to %s: %w", listKey, err)
	}

	if pushCmd.Val() <= int64(maxSize) || flagCmd.Val() == flagTrue {
		return nil
	}

	if err := c.client.Set(ctx, flagKey, flagTrue, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", flagKey, err)
	}
	return nil
}

// Заполнение только пустого списка.
// KEYS[1] = список, KEYS[2] = флаг hasMore
// ARGV[1] = maxSize, ARGV[2] = ttl в мс, ARGV[3] = флаг, ARGV[4..] = записи от новых к старым
// Возвращает 1, если список заполнен, 0 если в нем уже что-то было
const luaBulkLoad = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
for i = 4, #ARGV do
  redis.call("RPUSH", KEYS[1], ARGV[i])
end
redis.call("LTRIM", KEYS[1], 0, tonumber(ARGV[1]) - 1)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("SET", KEYS[2], ARGV[3], "PX", ARGV[2])
return 1
`

var bulkLoadScript = redis.NewScript(luaBulkLoad)

// BulkLoad заполняет пустой кэш одной операцией. messages уже отсортированы от новых к старым,
// hasMore задается явно. Непустой список не трогается, тогда возвращается false.
// Пустая пачка ничего не меняет
func (c *RecentCache) BulkLoad(ctx context.Context, roomID string, messages []models.ChatMessage, hasMore bool, maxSize int) (bool, error) {
	if len(messages) == 0 {
		return false, nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	flag := flagFalse
	if hasMore {
		flag = flagTrue
	}

	args := make([]interface{}, 0, len(messages)+3)
	args = append(args, maxSize, c.ttl.Milliseconds(), flag)
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return false, fmt.Errorf("marshal cache entry: %w", err)
		}
		args = append(args, string(data))
	}

	listKey := messagesKey(roomID)
	loaded, err := bulkLoadScript.Run(ctx, c.client, []string{listKey, hasMoreKey(roomID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("bulk load %s: %w", listKey, err)
	}
	return loaded == 1, nil
}

// Read возвращает до maxSize сообщений, новые первыми.
// Битая запись прерывает чтение ошибкой MalformedEntryError
func (c *RecentCache) Read(ctx context.Context, roomID string, maxSize int) ([]models.ChatMessage, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	raw, err := c.client.LRange(ctx, messagesKey(roomID), 0, int64(maxSize-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", messagesKey(roomID), err)
	}

	messages := make([]models.ChatMessage, 0, len(raw))
	for i, entry := range raw {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			return nil, &MalformedEntryError{RoomID: roomID, Index: i, Err: err}
		}
		if err := m.Validate(); err != nil {
			return nil, &MalformedEntryError{RoomID: roomID, Index: i, Err: err}
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// HasMore значение флага, false если ключа нет
func (c *RecentCache) HasMore(ctx context.Context, roomID string) (bool, error) {
	val, err := c.client.Get(ctx, hasMoreKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", hasMoreKey(roomID), err)
	}
	return val == flagTrue, nil
}

// Len текущая длина списка
func (c *RecentCache) Len(ctx context.Context, roomID string) (int64, error) {
	return c.client.LLen(ctx, messagesKey(roomID)).Result()
}
