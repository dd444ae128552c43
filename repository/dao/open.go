package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/avast/retry-go/v5"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var ErrUnknownDialect = errors.New("unknown database dialect")

// Config 数据库连接配置
type Config struct {
	// Dialect mysql | sqlite
	Dialect      string        `koanf:"dialect"`
	DSN          string        `koanf:"dsn"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	ConnMaxLife  time.Duration `koanf:"conn_max_life"`
	// ConnectAttempts 启动时连接数据库的最大尝试次数
	ConnectAttempts uint          `koanf:"connect_attempts"`
	ConnectDelay    time.Duration `koanf:"connect_delay"`
}

// Open 连接数据库、建表并返回JobStore，多次尝试都失败时返回错误，由调用方决定退出
func Open(ctx context.Context, cfg Config, l logger.Logger) (*GormJobStore, error) {
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, cfg.Dialect)
	}

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.ConnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	db, err := retry.NewWithData[*gorm.DB](
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.Warn("failed to connect database, retrying",
				logger.Field{Key: "attempt", Val: n + 1},
				logger.Error(err))
		}),
	).Do(func() (*gorm.DB, error) {
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
			DisableForeignKeyConstraintWhenMigrating: true,
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err = sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	store := NewGormJobStore(db)
	if err = store.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// Close 关闭底层连接池
func (s *GormJobStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
