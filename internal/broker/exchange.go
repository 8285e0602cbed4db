package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
	DriverKafka  = "kafka"

	// RoutingPrefix префикс ключа маршрутизации: room.<id>
	RoutingPrefix = "room."
)

var (
	ErrClosed        = errors.New("broker: closed")
	ErrUnknownDriver = errors.New("broker: unknown driver")
)

// Handler обрабатывает одно сообщение общей очереди.
// Ошибка означает, что сообщение стоит доставить повторно (если драйвер умеет)
type Handler func(ctx context.Context, routingKey string, body []byte) error

// Exchange долговечный топик с общей очередью: каждое сообщение получает
// один потребитель из группы, а не все инстансы
type Exchange interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	// Consume блокируется до отмены ctx
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// Config параметры драйвера обменника
type Config struct {
	Driver    string        `mapstructure:"driver"`
	Stream    string        `mapstructure:"stream"`
	Topic     string        `mapstructure:"topic"`
	Queue     string        `mapstructure:"queue"`
	Retention time.Duration `mapstructure:"retention"`
	NATSURL   string        `mapstructure:"nats_url"`
	Brokers   []string      `mapstructure:"brokers"`
}

// NewExchange создает обменник по cfg.Driver
func NewExchange(cfg Config) (Exchange, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryExchange(1024), nil
	case DriverNATS:
		return NewNATSExchange(cfg)
	case DriverKafka:
		return NewKafkaExchange(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// RoutingKey ключ маршрутизации комнаты
func RoutingKey(roomID string) string {
	return RoutingPrefix + roomID
}

// RoomFromRoutingKey обратное к RoutingKey
func RoomFromRoutingKey(key string) (string, bool) {
	if !strings.HasPrefix(key, RoutingPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, RoutingPrefix)
	return id, id != ""
}
