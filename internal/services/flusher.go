package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereayou/article-chat/internal/eventlog"
	"github.com/thereayou/article-chat/internal/models"
	"github.com/thereayou/article-chat/pkg/log"
)

// FlushLog часть лога, нужная флашеру
type FlushLog interface {
	Rooms(ctx context.Context) ([]string, error)
	EnsureGroup(ctx context.Context, roomID, group string) (bool, error)
	ReadGroup(ctx context.Context, args eventlog.ReadArgs) ([]eventlog.Record, error)
	Ack(ctx context.Context, roomID, group string, ids ...string) error
	DeadLetter(ctx context.Context, roomID, group string, rec eventlog.Record, reason string) error
}

type FlusherConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int64         `mapstructure:"batch_size"`
	MaxBatches int           `mapstructure:"max_batches"`
	Group      string        `mapstructure:"group"`
	Consumer   string        `mapstructure:"consumer"`
	DeadLetter bool          `mapstructure:"dead_letter"`
	// ReadBlock ожидание новых записей на первом чтении комнаты; 0 = Interval/2, <0 без ожидания
	ReadBlock time.Duration `mapstructure:"read_block"`
}

func (c *FlusherConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 50
	}
	if c.Group == "" {
		c.Group = "chat-flusher"
	}
	if c.Consumer == "" {
		c.Consumer = "flusher-1"
	}
	if c.ReadBlock == 0 {
		c.ReadBlock = c.Interval / 2
	}
}

// TickerFunc возвращает канал тиков и функцию остановки
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type FlusherOption func(*Flusher)

func WithTicker(fn TickerFunc) FlusherOption {
	return func(f *Flusher) { f.newTicker = fn }
}

// FlushStats итог одного прогона
type FlushStats struct {
	Rooms        int
	Saved        int
	DeadLettered int
	// Skipped прогон не выполнялся: предыдущий еще идет
	Skipped bool
}

// Flusher периодически сливает лог в MessageStore с гарантией at-least-once:
// запись подтверждается только после успешного сохранения всей пачки
type Flusher struct {
	log       FlushLog
	store     MessageStore
	cfg       FlusherConfig
	newTicker TickerFunc

	running sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFlusher(flushLog FlushLog, store MessageStore, cfg FlusherConfig, opts ...FlusherOption) *Flusher {
	cfg.withDefaults()
	f := &Flusher{
		log:       flushLog,
		store:     store,
		cfg:       cfg,
		newTicker: systemTicker,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start запускает фоновый цикл. Повторный Start без Stop возвращает ErrFlusherStarted
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return ErrFlusherStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.loop(ctx, f.done)
	return nil
}

// Stop останавливает цикл и ждет завершения текущего прогона
func (f *Flusher) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *Flusher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	tick, stop := f.newTicker(f.cfg.Interval)
	defer stop()

	logger := f.logger(ctx)
	logger.Info().Dur("interval", f.cfg.Interval).Msg("flusher started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("flusher stopped")
			return
		case <-tick:
			stats, err := f.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("flush run finished with errors")
			}
			if stats.Saved > 0 || stats.DeadLettered > 0 {
				logger.Info().
					Int("rooms", stats.Rooms).
					Int("saved", stats.Saved).
					Int("dead_lettered", stats.DeadLettered).
					Msg("flush run")
			}
		}
	}
}

// RunOnce один проход по всем комнатам. Ошибка комнаты не мешает остальным,
// ее записи остаются в pending до следующего прогона
func (f *Flusher) RunOnce(ctx context.Context) (FlushStats, error) {
	if !f.running.TryLock() {
		return FlushStats{Skipped: true}, nil
	}
	defer f.running.Unlock()

	var stats FlushStats

	rooms, err := f.log.Rooms(ctx)
	if err != nil {
		return stats, fmt.Errorf("list rooms: %w", err)
	}

	var errs []error
	for _, roomID := range rooms {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		stats.Rooms++

		saved, dead, err := f.flushRoom(ctx, roomID)
		stats.Saved += saved
		stats.DeadLettered += dead
		if err != nil {
			errs = append(errs, &PipelineError{Op: "flush", RoomID: roomID, Err: err})
		}
	}
	return stats, errors.Join(errs...)
}

func (f *Flusher) flushRoom(ctx context.Context, roomID string) (saved, dead int, err error) {
	if _, err := f.log.EnsureGroup(ctx, roomID, f.cfg.Group); err != nil {
		return 0, 0, err
	}

	pending := true
	blocked := false
	for batch := 0; batch < f.cfg.MaxBatches; batch++ {
		records, err := f.next(ctx, roomID, &pending, &blocked)
		if err != nil {
			return saved, dead, err
		}
		if len(records) == 0 {
			return saved, dead, nil
		}

		n, d, err := f.flushBatch(ctx, roomID, records)
		saved += n
		dead += d
		if err != nil {
			return saved, dead, err
		}
	}
	return saved, dead, nil
}

// next сначала дочитывает pending этого консьюмера, потом новые записи.
// Ждать новые записи можно только на первом чтении комнаты
func (f *Flusher) next(ctx context.Context, roomID string, pending, blocked *bool) ([]eventlog.Record, error) {
	args := eventlog.ReadArgs{
		RoomID:   roomID,
		Group:    f.cfg.Group,
		Consumer: f.cfg.Consumer,
		Count:    f.cfg.BatchSize,
	}

	if *pending {
		args.Start = eventlog.PendingRecords
		records, err := f.log.ReadGroup(ctx, args)
		if err != nil || len(records) > 0 {
			return records, err
		}
		*pending = false
	}

	args.Start = eventlog.NewRecords
	records, err := f.log.ReadGroup(ctx, args)
	if err != nil || len(records) > 0 || *blocked || f.cfg.ReadBlock < 0 {
		*blocked = true
		return records, err
	}

	*blocked = true
	args.Block = f.cfg.ReadBlock
	return f.log.ReadGroup(ctx, args)
}

// flushBatch разбирает, сохраняет и подтверждает пачку. Битая запись без dead-letter
// прерывает пачку целиком, ничего не подтверждается
func (f *Flusher) flushBatch(ctx context.Context, roomID string, records []eventlog.Record) (saved, dead int, err error) {
	msgs := make([]models.ChatMessage, 0, len(records))
	ids := make([]string, 0, len(records))

	for _, rec := range records {
		if rec.Deleted {
			// вытеснена из стрима, сохранять нечего
			ids = append(ids, rec.ID)
			continue
		}

		msg, err := rec.Decode()
		if err != nil {
			if !f.cfg.DeadLetter {
				return 0, dead, err
			}
			if dlErr := f.log.DeadLetter(ctx, roomID, f.cfg.Group, rec, err.Error()); dlErr != nil {
				return 0, dead, dlErr
			}
			dead++
			continue
		}
		msgs = append(msgs, msg)
		ids = append(ids, rec.ID)
	}

	if len(msgs) > 0 {
		if err := f.store.SaveMessages(ctx, msgs); err != nil {
			return 0, dead, err
		}
	}
	if err := f.log.Ack(ctx, roomID, f.cfg.Group, ids...); err != nil {
		// строки уже в базе, повтор даст дубликаты
		return len(msgs), dead, err
	}

	logger := f.logger(ctx)
	logger.Debug().Str(log.FieldRoomID, roomID).Int(log.FieldBatch, len(msgs)).Msg("batch flushed")
	return len(msgs), dead, nil
}

func (f *Flusher) logger(ctx context.Context) zerolog.Logger {
	return log.Ctx(ctx).With().Str(log.FieldGroup, f.cfg.Group).Str("consumer", f.cfg.Consumer).Logger()
}
