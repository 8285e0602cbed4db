package broker

import (
	"context"
	"sync"

	"github.com/thereayou/article-chat/pkg/log"
)

type envelope struct {
	key  string
	body []byte
}

// memoryExchange очередь внутри процесса. Несколько Consume делят сообщения между собой
type memoryExchange struct {
	queue chan envelope
	done  chan struct{}
	once  sync.Once
}

func NewMemoryExchange(buffer int) Exchange {
	return &memoryExchange{
		queue: make(chan envelope, buffer),
		done:  make(chan struct{}),
	}
}

func (e *memoryExchange) Publish(ctx context.Context, routingKey string, body []byte) error {
	msg := envelope{key: routingKey, body: append([]byte(nil), body...)}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	select {
	case e.queue <- msg:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *memoryExchange) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case msg := <-e.queue:
			if err := h(ctx, msg.key, msg.body); err != nil {
				logger := log.Ctx(ctx)
				logger.Warn().Err(err).Str("routing_key", msg.key).Msg("memory exchange: handler failed, message dropped")
			}
		}
	}
}

func (e *memoryExchange) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

// memoryLive живой топик одного процесса
type memoryLive struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]LiveHandler
}

func NewMemoryLive() LiveTopic {
	return &memoryLive{subs: make(map[int]LiveHandler)}
}

func (l *memoryLive) Publish(ctx context.Context, destination string, body []byte) error {
	l.mu.RLock()
	handlers := make([]LiveHandler, 0, len(l.subs))
	for _, h := range l.subs {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, destination, body)
	}
	return nil
}

func (l *memoryLive) Subscribe(ctx context.Context, h LiveHandler) error {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = h
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	delete(l.subs, id)
	l.mu.Unlock()
	return nil
}

func (l *memoryLive) Close() error { return nil }
