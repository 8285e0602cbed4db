package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/thereayou/article-chat/internal/models"
	"github.com/thereayou/article-chat/pkg/log"
)

// RecentCache кэш последних сообщений комнаты
type RecentCache interface {
	Push(ctx context.Context, msg models.ChatMessage, maxSize int) error
	BulkLoad(ctx context.Context, roomID string, msgs []models.ChatMessage, hasMore bool, maxSize int) (bool, error)
	Read(ctx context.Context, roomID string, maxSize int) ([]models.ChatMessage, error)
	HasMore(ctx context.Context, roomID string) (bool, error)
}

// DurableLog лог сообщений, который потом сливается в MessageStore
type DurableLog interface {
	Append(ctx context.Context, msg models.ChatMessage) (string, error)
}

// MessagePublisher отправляет сообщение в брокер для живой рассылки
type MessagePublisher interface {
	Publish(ctx context.Context, msg models.ChatMessage) error
}

type ChatService struct {
	cache        RecentCache
	log          DurableLog
	publisher    MessagePublisher
	store        MessageStore
	maxCacheSize int

	fill singleflight.Group
}

// NewChatService store может быть nil: тогда история читается только из кэша
func NewChatService(cache RecentCache, durable DurableLog, publisher MessagePublisher, store MessageStore, maxCacheSize int) *ChatService {
	if maxCacheSize <= 0 {
		maxCacheSize = 100
	}
	return &ChatService{
		cache:        cache,
		log:          durable,
		publisher:    publisher,
		store:        store,
		maxCacheSize: maxCacheSize,
	}
}

// Send проводит сообщение по пайплайну. CHAT пишется в кэш и лог, все виды публикуются.
// Шаги выполняются независимо: сбой кэша не мешает логу и публикации
func (s *ChatService) Send(ctx context.Context, msg models.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := json.Marshal(msg); err != nil {
		return &PipelineError{Op: "send", RoomID: msg.RoomID, Err: fmt.Errorf("%w: %v", ErrSerialization, err)}
	}

	logger := log.Ctx(ctx).With().Str(log.FieldRoomID, msg.RoomID).Logger()

	var storeErr error
	if msg.Durable() {
		var cacheErr, logErr error
		if err := s.cache.Push(ctx, msg, s.maxCacheSize); err != nil {
			cacheErr = fmt.Errorf("cache: %w", err)
		}
		if _, err := s.log.Append(ctx, msg); err != nil {
			logErr = fmt.Errorf("log: %w", err)
		}
		storeErr = errors.Join(cacheErr, logErr)
	}

	if err := s.publisher.Publish(ctx, msg); err != nil {
		logger.Error().Err(err).Str("kind", string(msg.Kind)).Msg("publish failed, live delivery skipped")
	}

	if storeErr != nil {
		logger.Error().Err(storeErr).Msg("message not stored")
		return &PipelineError{Op: "send", RoomID: msg.RoomID, Err: storeErr}
	}
	return nil
}

type historyPage struct {
	messages []models.ChatMessage
	hasMore  bool
}

// History последние сообщения комнаты, новые первыми, и флаг наличия более старых.
// Пустой кэш заполняется из MessageStore, параллельные промахи делят один запрос
func (s *ChatService) History(ctx context.Context, roomID string) ([]models.ChatMessage, bool, error) {
	msgs, err := s.cache.Read(ctx, roomID, s.maxCacheSize)
	if err != nil {
		return nil, false, &PipelineError{Op: "history", RoomID: roomID, Err: err}
	}
	if len(msgs) > 0 || s.store == nil {
		hasMore, err := s.cache.HasMore(ctx, roomID)
		if err != nil {
			return nil, false, &PipelineError{Op: "history", RoomID: roomID, Err: err}
		}
		return msgs, hasMore, nil
	}

	v, err, _ := s.fill.Do(roomID, func() (interface{}, error) {
		return s.loadFromStore(ctx, roomID)
	})
	if err != nil {
		return nil, false, &PipelineError{Op: "history", RoomID: roomID, Err: err}
	}
	page := v.(historyPage)
	return page.messages, page.hasMore, nil
}

func (s *ChatService) loadFromStore(ctx context.Context, roomID string) (historyPage, error) {
	rows, err := s.store.GetRoomMessages(ctx, roomID, s.maxCacheSize+1)
	if err != nil {
		return historyPage{}, fmt.Errorf("store: %w", err)
	}

	page := historyPage{messages: rows}
	if len(rows) > s.maxCacheSize {
		page.messages = rows[:s.maxCacheSize]
		page.hasMore = true
	}

	if len(page.messages) == 0 {
		return page, nil
	}

	loaded, err := s.cache.BulkLoad(ctx, roomID, page.messages, page.hasMore, s.maxCacheSize)
	if err != nil {
		logger := log.Ctx(ctx)
		logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("history cache fill failed")
		return page, nil
	}
	if loaded {
		return page, nil
	}

	// пока шел запрос, в комнату написали: кэш уже не пуст и он источник истины
	msgs, err := s.cache.Read(ctx, roomID, s.maxCacheSize)
	if err != nil {
		return historyPage{}, err
	}
	hasMore, err := s.cache.HasMore(ctx, roomID)
	if err != nil {
		return historyPage{}, err
	}
	return historyPage{messages: msgs, hasMore: hasMore}, nil
}
