package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/thereayou/article-chat/pkg/log"
)

const DefaultTopic = "chat.rooms"

// kafkaExchange один топик, ключ сообщения = ключ маршрутизации,
// поэтому порядок внутри комнаты держится партицией
type kafkaExchange struct {
	brokers  []string
	topic    string
	group    string
	config   *sarama.Config
	producer sarama.SyncProducer
}

func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

func NewKafkaExchange(cfg Config) (Exchange, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	group := cfg.Queue
	if group == "" {
		group = DefaultQueue
	}

	scfg := newSaramaConfig()
	producer, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return &kafkaExchange{
		brokers:  cfg.Brokers,
		topic:    topic,
		group:    group,
		config:   scfg,
		producer: producer,
	}, nil
}

func (e *kafkaExchange) Publish(_ context.Context, routingKey string, body []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(routingKey),
		Value: sarama.ByteEncoder(body),
	}
	if _, _, err := e.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka send %s: %w", e.topic, err)
	}
	return nil
}

func (e *kafkaExchange) Consume(ctx context.Context, h Handler) error {
	group, err := sarama.NewConsumerGroup(e.brokers, e.group, e.config)
	if err != nil {
		return fmt.Errorf("kafka consumer group %s: %w", e.group, err)
	}
	defer group.Close()

	logger := log.Ctx(ctx).With().Str(log.FieldDriver, DriverKafka).Str(log.FieldGroup, e.group).Logger()

	go func() {
		for err := range group.Errors() {
			logger.Error().Err(err).Msg("consumer group error")
		}
	}()

	handler := &groupHandler{handle: h}
	for ctx.Err() == nil {
		if err := group.Consume(ctx, []string{e.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Error().Err(err).Msg("consume failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return nil
}

func (e *kafkaExchange) Close() error {
	return e.producer.Close()
}

type groupHandler struct {
	handle Handler
}

func (g *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (g *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (g *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for msg := range claim.Messages() {
		if err := g.handle(ctx, string(msg.Key), msg.Value); err != nil {
			logger := log.Ctx(ctx)
			logger.Warn().Err(err).
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("relay handler failed")
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
