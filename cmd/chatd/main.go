package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/thereayou/article-chat/cmd/server"
	"github.com/thereayou/article-chat/internal/config"
	"github.com/thereayou/article-chat/pkg/log"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger := log.L()
		logger.Fatal().Err(err).Msg("config load failed")
	}
	log.Init(cfg.Log)
	logger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("server init failed")
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
