package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/thereayou/article-chat/internal/broker"
	"github.com/thereayou/article-chat/internal/cache"
	"github.com/thereayou/article-chat/internal/config"
	"github.com/thereayou/article-chat/internal/database"
	"github.com/thereayou/article-chat/internal/eventlog"
	"github.com/thereayou/article-chat/internal/handlers"
	"github.com/thereayou/article-chat/internal/middleware"
	"github.com/thereayou/article-chat/internal/presence"
	"github.com/thereayou/article-chat/internal/services"
	ws "github.com/thereayou/article-chat/internal/websocket"
	"github.com/thereayou/article-chat/pkg/auth"
	"github.com/thereayou/article-chat/pkg/log"
)

type Server struct {
	cfg *config.Config

	Router     *gin.Engine
	DB         *database.Database
	Redis      *redis.Client
	JWTManager *auth.JWTManager
	Hub        *ws.Hub
	Exchange   broker.Exchange
	Live       broker.LiveTopic
	Relay      *broker.Relay
	Flusher    *services.Flusher
}

// NewServer поднимает подключения и собирает пайплайн. ctx живет, пока работает сервер
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := log.L()
	ctx = log.WithLogger(ctx, logger)

	dbConn := &database.Database{}
	if err := dbConn.Connect(cfg.Database.URL); err != nil {
		return nil, fmt.Errorf("postgres connect failed: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}

	exchange, err := broker.NewExchange(broker.Config{
		Driver:    cfg.Broker.Driver,
		Stream:    cfg.Broker.Stream,
		Topic:     cfg.Broker.Topic,
		Queue:     cfg.Broker.Queue,
		Retention: cfg.Stream.Retention,
		NATSURL:   cfg.NATS.URL,
		Brokers:   cfg.Kafka.Brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	live, err := broker.NewLiveTopic(broker.LiveConfig{
		Driver:  cfg.Live.Driver,
		Subject: cfg.Live.Subject,
		NATSURL: cfg.NATS.URL,
	})
	if err != nil {
		exchange.Close()
		return nil, fmt.Errorf("live topic: %w", err)
	}
	logger.Info().
		Str("exchange", cfg.Broker.Driver).
		Str("live", cfg.Live.Driver).
		Str("presence", cfg.Presence.Driver).
		Msg("drivers selected")

	dest := broker.NewDestinations(cfg.Live.TopicPrefix, cfg.Live.AppPrefix)

	var store presence.Store
	switch strings.ToLower(cfg.Presence.Driver) {
	case "memory":
		store = presence.NewMemoryStore()
	default:
		store = presence.NewRedisStore(rdb)
	}
	tracker := presence.NewTracker(store, broker.NewCountPublisher(live, dest))

	recent := cache.NewRecentCache(rdb, cfg.Chat.CacheTTL)
	chatLog := eventlog.NewLog(rdb, eventlog.Options{Retention: cfg.Stream.Retention, MaxLen: cfg.Stream.MaxLen})
	chat := services.NewChatService(recent, chatLog, broker.NewPublisher(exchange), dbConn, cfg.Chat.MaxCacheSize)
	flusher := services.NewFlusher(chatLog, dbConn, cfg.Flusher)

	jwtMgr := auth.NewJWTManager(cfg.JWT.Secret, 24*time.Hour)

	messageH := handlers.NewMessageHandler(ctx, chat, tracker, dest)
	hub := ws.NewHub(messageH.OnDisconnect)

	checks := map[string]handlers.Pinger{"postgres": dbConn}
	checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), log.GinMiddleware(logger))
	APIEndpoints(router,
		middleware.AuthMiddleware(jwtMgr, middleware.NewRedisBlacklist(rdb)),
		handlers.NewWebSocketHandler(hub, messageH, cfg.Server.AllowedOrigins),
		handlers.NewHTTPMessageHandler(chat, tracker),
		handlers.NewHealthHandler(checks),
	)

	return &Server{
		cfg:        cfg,
		Router:     router,
		DB:         dbConn,
		Redis:      rdb,
		JWTManager: jwtMgr,
		Hub:        hub,
		Exchange:   exchange,
		Live:       live,
		Relay:      broker.NewRelay(exchange, live, dest),
		Flusher:    flusher,
	}, nil
}

// Run обслуживает HTTP и фоновые задачи до отмены ctx, затем останавливает их
func (s *Server) Run(ctx context.Context) error {
	logger := log.L()
	ctx = log.WithLogger(ctx, logger)

	httpSrv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return s.Live.Subscribe(gctx, s.Hub.Deliver)
	})
	g.Go(func() error {
		return s.Relay.Run(gctx)
	})
	g.Go(func() error {
		if err := s.Flusher.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		s.Flusher.Stop()
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("port", s.cfg.Server.Port).Msg("server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("server shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close освобождает подключения после Run
func (s *Server) Close() {
	logger := log.L()
	if err := s.Exchange.Close(); err != nil {
		logger.Warn().Err(err).Msg("exchange close")
	}
	if err := s.Live.Close(); err != nil {
		logger.Warn().Err(err).Msg("live topic close")
	}
	if err := s.Redis.Close(); err != nil {
		logger.Warn().Err(err).Msg("redis close")
	}
	if err := s.DB.Close(); err != nil {
		logger.Warn().Err(err).Msg("postgres close")
	}
}
