package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/thereayou/article-chat/pkg/log"
)

const (
	DefaultStream  = "CHAT_ROOMS"
	DefaultQueue   = "chat-relay"
	DefaultSubject = "chat.live"

	fetchBatch    = 64
	fetchWait     = 2 * time.Second
	natsAckWait   = 30 * time.Second
	maxAckPending = 1024
)

func connectNATS(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// natsExchange JetStream поток room.> и durable pull-консьюмер, общий для инстансов
type natsExchange struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	stream  string
	durable string
}

func NewNATSExchange(cfg Config) (Exchange, error) {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	durable := cfg.Queue
	if durable == "" {
		durable = DefaultQueue
	}

	nc, err := connectNATS(cfg.NATSURL, "chat-exchange")
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	if err := ensureStream(js, stream, cfg.Retention); err != nil {
		nc.Close()
		return nil, err
	}

	return &natsExchange{nc: nc, js: js, stream: stream, durable: durable}, nil
}

func ensureStream(js nats.JetStreamContext, name string, retention time.Duration) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{RoutingPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   retention,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

func (e *natsExchange) Publish(ctx context.Context, routingKey string, body []byte) error {
	if _, err := e.js.Publish(routingKey, body, nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", routingKey, err)
	}
	return nil
}

func (e *natsExchange) Consume(ctx context.Context, h Handler) error {
	sub, err := e.js.PullSubscribe(RoutingPrefix+">", e.durable,
		nats.BindStream(e.stream),
		nats.AckExplicit(),
		nats.AckWait(natsAckWait),
		nats.MaxAckPending(maxAckPending),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe %s/%s: %w", e.stream, e.durable, err)
	}
	defer sub.Unsubscribe()

	logger := log.Ctx(ctx).With().Str(log.FieldDriver, DriverNATS).Str(log.FieldGroup, e.durable).Logger()

	for ctx.Err() == nil {
		fctx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(fetchBatch, nats.Context(fctx))
		cancel()
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("jetstream fetch failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range msgs {
			if err := h(ctx, m.Subject, m.Data); err != nil {
				logger.Warn().Err(err).Str(log.FieldSubject, m.Subject).Msg("relay handler failed, nak")
				_ = m.Nak()
				continue
			}
			_ = m.Ack()
		}
	}
	return nil
}

func (e *natsExchange) Close() error {
	return e.nc.Drain()
}

// liveFrame конверт живого топика: один subject на все комнаты
type liveFrame struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// natsLive core NATS subject без очереди: сообщение получает каждый инстанс
type natsLive struct {
	nc      *nats.Conn
	subject string
}

func NewNATSLive(cfg LiveConfig) (LiveTopic, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := connectNATS(cfg.NATSURL, "chat-live")
	if err != nil {
		return nil, err
	}
	return &natsLive{nc: nc, subject: subject}, nil
}

func (l *natsLive) Publish(_ context.Context, destination string, body []byte) error {
	data, err := json.Marshal(liveFrame{Destination: destination, Body: body})
	if err != nil {
		return fmt.Errorf("marshal live frame: %w", err)
	}
	if err := l.nc.Publish(l.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", l.subject, err)
	}
	return nil
}

func (l *natsLive) Subscribe(ctx context.Context, h LiveHandler) error {
	logger := log.Ctx(ctx).With().Str(log.FieldSubject, l.subject).Logger()

	sub, err := l.nc.Subscribe(l.subject, func(m *nats.Msg) {
		var frame liveFrame
		if err := json.Unmarshal(m.Data, &frame); err != nil {
			logger.Warn().Err(err).Msg("malformed live frame")
			return
		}
		h(ctx, frame.Destination, frame.Body)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", l.subject, err)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	<-ctx.Done()
	return sub.Unsubscribe()
}

func (l *natsLive) Close() error {
	return l.nc.Drain()
}
