package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thereayou/article-chat/internal/models"
)

// Publisher отправляет сообщения комнат в обменник. Публикуются все виды сообщений
type Publisher struct {
	exchange Exchange
}

func NewPublisher(exchange Exchange) *Publisher {
	return &Publisher{exchange: exchange}
}

func (p *Publisher) Publish(ctx context.Context, msg models.ChatMessage) error {
	body, err := json.Marshal(models.NewMessageResponse(msg))
	if err != nil {
		return fmt.Errorf("marshal message response: %w", err)
	}
	return p.exchange.Publish(ctx, RoutingKey(msg.RoomID), body)
}

// CountPublisher рассылает счетчики участников в живой топик
type CountPublisher struct {
	live LiveTopic
	dest Destinations
}

func NewCountPublisher(live LiveTopic, dest Destinations) *CountPublisher {
	return &CountPublisher{live: live, dest: dest}
}

func (p *CountPublisher) NotifyCount(ctx context.Context, roomID string, count int64) error {
	body, err := json.Marshal(models.CountResponse{RoomID: roomID, Count: count})
	if err != nil {
		return fmt.Errorf("marshal count: %w", err)
	}
	return p.live.Publish(ctx, p.dest.Count(roomID), body)
}
