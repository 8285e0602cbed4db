package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thereayou/article-chat/internal/models"
)

var ErrNoDSN = errors.New("database url is not set")

// Connect открывает пул Postgres и мигрирует таблицу сообщений
func (d *Database) Connect(dsn string) error {
	if dsn == "" {
		return ErrNoDSN
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(&models.Message{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	d.db = db
	return nil
}

// Ping проверяет соединение (для /healthz)
func (d *Database) Ping(ctx context.Context) error {
	if d.db == nil {
		return ErrNoDSN
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
