package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/thereayou/article-chat/internal/models"
)

const (
	DefaultRetention = 72 * time.Hour
	DefaultMaxLen    = 10000

	payloadField  = "payload"
	reasonField   = "reason"
	sourceIDField = "source_id"

	// NewRecords читает только еще не выданные группе записи
	NewRecords = ">"
	// PendingRecords перечитывает выданные, но не подтвержденные записи
	PendingRecords = "0"
)

var ErrMalformedRecord = errors.New("malformed log record")

// Redis layout:
// room:{id}:log        STREAM payload=<json ChatMessage>
// room:{id}:log:dead   STREAM payload, reason, source_id

const (
	keyPrefix = "room:"
	keySuffix = ":log"
)

func logKey(roomID string) string {
	return keyPrefix + roomID + keySuffix
}

func deadKey(roomID string) string {
	return logKey(roomID) + ":dead"
}

func roomFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, keySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), keySuffix)
	return id, id != ""
}

// Record запись лога с идентификатором, который назначил Redis
type Record struct {
	ID      string
	RoomID  string
	Payload []byte
	// Deleted запись числится в pending, но уже вытеснена из стрима
	Deleted bool
}

// Decode разбирает payload в сообщение
func (r Record) Decode() (models.ChatMessage, error) {
	var m models.ChatMessage
	if err := json.Unmarshal(r.Payload, &m); err != nil {
		return m, fmt.Errorf("%w: %s/%s: %v", ErrMalformedRecord, r.RoomID, r.ID, err)
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("%w: %s/%s: %v", ErrMalformedRecord, r.RoomID, r.ID, err)
	}
	return m, nil
}

type Options struct {
	Retention time.Duration
	MaxLen    int64
}

// Log журнал комнат на Redis Streams
type Log struct {
	client    *redis.Client
	retention time.Duration
	maxLen    int64
}

func NewLog(client *redis.Client, opts Options) *Log {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	return &Log{client: client, retention: opts.Retention, maxLen: opts.MaxLen}
}

// Append дописывает сообщение в лог комнаты и продлевает TTL лога
func (l *Log) Append(ctx context.Context, msg models.ChatMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal log record: %w", err)
	}

	key := logKey(msg.RoomID)

	pipe := l.client.TxPipeline()
	addCmd := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: string(data)},
	})
	pipe.Expire(ctx, key, l.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("append to %s: %w", key, err)
	}
	return addCmd.Val(), nil
}

// Rooms перечисляет комнаты, у которых есть лог
func (l *Log) Rooms(ctx context.Context) ([]string, error) {
	var (
		rooms  []string
		cursor uint64
	)
	for {
		keys, next, err := l.client.Scan(ctx, cursor, keyPrefix+"*"+keySuffix, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan logs: %w", err)
		}
		for _, k := range keys {
			if id, ok := roomFromKey(k); ok {
				rooms = append(rooms, id)
			}
		}
		if next == 0 {
			return rooms, nil
		}
		cursor = next
	}
}

// EnsureGroup создает группу чтения, если ее нет. Существующая группа не ошибка
func (l *Log) EnsureGroup(ctx context.Context, roomID, group string) (bool, error) {
	err := l.client.XGroupCreateMkStream(ctx, logKey(roomID), group, "0").Err()
	if err == nil {
		return false, nil
	}
	if strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return true, nil
	}
	return false, fmt.Errorf("create group %s on %s: %w", group, logKey(roomID), err)
}

type ReadArgs struct {
	RoomID   string
	Group    string
	Consumer string
	Count    int64
	// Start NewRecords или PendingRecords
	Start string
	// Block <= 0 читает без ожидания
	Block time.Duration
}

// ReadGroup читает до Count записей для группы. Пустой результат не ошибка
func (l *Log) ReadGroup(ctx context.Context, args ReadArgs) ([]Record, error) {
	start := args.Start
	if start == "" {
		start = NewRecords
	}
	block := args.Block
	if block <= 0 {
		block = -1
	}

	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{logKey(args.RoomID), start},
		Count:    args.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group %s on %s: %w", args.Group, logKey(args.RoomID), err)
	}

	var records []Record
	for _, s := range streams {
		for _, m := range s.Messages {
			rec := Record{ID: m.ID, RoomID: args.RoomID}
			switch v := m.Values[payloadField].(type) {
			case string:
				rec.Payload = []byte(v)
			case nil:
				rec.Deleted = len(m.Values) == 0
			default:
				rec.Payload = []byte(fmt.Sprint(v))
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// Ack подтверждает обработку записей группой
func (l *Log) Ack(ctx context.Context, roomID, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, logKey(roomID), group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %d records on %s: %w", len(ids), logKey(roomID), err)
	}
	return nil
}

// DeadLetter переносит запись в отдельный стрим и подтверждает ее в основном
func (l *Log) DeadLetter(ctx context.Context, roomID, group string, rec Record, reason string) error {
	key := deadKey(roomID)

	pipe := l.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			payloadField:  string(rec.Payload),
			reasonField:   reason,
			sourceIDField: rec.ID,
		},
	})
	pipe.Expire(ctx, key, l.retention)
	pipe.XAck(ctx, logKey(roomID), group, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter %s on %s: %w", rec.ID, logKey(roomID), err)
	}
	return nil
}

// Pending число выданных, но не подтвержденных записей группы
func (l *Log) Pending(ctx context.Context, roomID, group string) (int64, error) {
	res, err := l.client.XPending(ctx, logKey(roomID), group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending on %s: %w", logKey(roomID), err)
	}
	return res.Count, nil
}

// Len число записей в логе комнаты
func (l *Log) Len(ctx context.Context, roomID string) (int64, error) {
	return l.client.XLen(ctx, logKey(roomID)).Result()
}
