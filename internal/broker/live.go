package broker

import (
	"context"
	"fmt"
	"strings"
)

// LiveHandler получает событие живого топика
type LiveHandler func(ctx context.Context, destination string, body []byte)

// LiveTopic топик, который слушает каждый инстанс: событие доходит до всех
// локальных подписчиков на destination во всем кластере
type LiveTopic interface {
	Publish(ctx context.Context, destination string, body []byte) error
	// Subscribe блокируется до отмены ctx
	Subscribe(ctx context.Context, h LiveHandler) error
	Close() error
}

// LiveConfig параметры живого топика
type LiveConfig struct {
	Driver  string `mapstructure:"driver"`
	Subject string `mapstructure:"subject"`
	NATSURL string `mapstructure:"nats_url"`
}

func NewLiveTopic(cfg LiveConfig) (LiveTopic, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryLive(), nil
	case DriverNATS:
		return NewNATSLive(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
