package broker

import (
	"context"
	"fmt"

	"github.com/thereayou/article-chat/pkg/log"
)

// Relay забирает сообщения из общей очереди и публикует их в живой топик комнаты.
// Каждое сообщение релеит ровно один инстанс, а живой топик доносит его до всех
type Relay struct {
	exchange Exchange
	live     LiveTopic
	dest     Destinations
}

func NewRelay(exchange Exchange, live LiveTopic, dest Destinations) *Relay {
	return &Relay{exchange: exchange, live: live, dest: dest}
}

// Run блокируется до отмены ctx
func (r *Relay) Run(ctx context.Context) error {
	logger := log.Ctx(ctx)
	logger.Info().Msg("relay started")
	defer func() { logger.Info().Msg("relay stopped") }()

	return r.exchange.Consume(ctx, r.handle)
}

func (r *Relay) handle(ctx context.Context, routingKey string, body []byte) error {
	roomID, ok := RoomFromRoutingKey(routingKey)
	if !ok {
		// повтор не поможет, сообщение пропускаем
		logger := log.Ctx(ctx)
		logger.Warn().Str("routing_key", routingKey).Msg("relay: unexpected routing key")
		return nil
	}
	if err := r.live.Publish(ctx, r.dest.Room(roomID), body); err != nil {
		return fmt.Errorf("relay room %s: %w", roomID, err)
	}
	return nil
}
