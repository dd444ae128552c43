package config

import (
	"time"

	"github.com/TimeWtr/job_dispatcher"
	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository/dao"
)

// AdminConfig 调度中心进程配置
type AdminConfig struct {
	// Listen RPC监听地址
	Listen string `koanf:"listen"`
	// AdminAddress 写入触发信息的调度中心地址
	AdminAddress    string        `koanf:"admin_address"`
	AccessToken     string        `koanf:"access_token"`
	Timezone        string        `koanf:"timezone"`
	FastPoolMax     int           `koanf:"fast_pool_max"`
	SlowPoolMax     int           `koanf:"slow_pool_max"`
	ExecutorTimeout time.Duration `koanf:"executor_timeout"`
	// LogRetentionDays 调度记录保留天数，0表示不清理
	LogRetentionDays int    `koanf:"log_retention_days"`
	LogCleanSpec     string `koanf:"log_clean_spec"`

	DB    dao.Config                 `koanf:"db"`
	Email job_dispatcher.EmailConfig `koanf:"email"`
	Log   logger.Options             `koanf:"log"`
}

func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Listen:           ":8080",
		FastPoolMax:      job_dispatcher.DefaultFastMax,
		SlowPoolMax:      job_dispatcher.DefaultSlowMax,
		ExecutorTimeout:  remoting.DefaultTimeout,
		LogRetentionDays: 30,
		LogCleanSpec:     _const.DefaultCleanSpec,
		DB: dao.Config{
			Dialect:      "sqlite",
			DSN:          "job_dispatcher.db",
			MaxOpenConns: 1,
		},
		Email: job_dispatcher.EmailConfig{Port: 25},
		Log:   logger.Options{Level: "info", Format: "json"},
	}
}

func (c *AdminConfig) Validate() error {
	if c.Listen == "" {
		return invalid("listen is required")
	}
	switch c.DB.Dialect {
	case "mysql", "sqlite":
	default:
		return invalid("unknown db dialect %q", c.DB.Dialect)
	}
	if c.DB.DSN == "" {
		return invalid("db dsn is required")
	}
	if c.LogRetentionDays < 0 {
		return invalid("log_retention_days must be >= 0")
	}
	if c.LogRetentionDays > 0 {
		if _, err := _const.Parser.Parse(c.LogCleanSpec); err != nil {
			return invalid("log_clean_spec %q: %v", c.LogCleanSpec, err)
		}
	}
	if c.ExecutorTimeout < 0 {
		return invalid("executor_timeout must be >= 0")
	}
	if c.Email.Host != "" && (c.Email.Port <= 0 || c.Email.From == "") {
		return invalid("email port and from are required when host is set")
	}
	_, err := loadLocation(c.Timezone)
	return err
}

func (c *AdminConfig) Location() *time.Location {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Options 转换为调度中心的选项，未配置SMTP时不开启邮件告警
func (c *AdminConfig) Options(l logger.Logger) []job_dispatcher.Options {
	opts := []job_dispatcher.Options{
		job_dispatcher.WithLogger(l),
		job_dispatcher.WithLocation(c.Location()),
		job_dispatcher.WithPoolSize(c.FastPoolMax, c.SlowPoolMax),
		job_dispatcher.WithAccessToken(c.AccessToken),
		job_dispatcher.WithAdminAddress(c.AdminAddress),
		job_dispatcher.WithListenAddr(c.Listen),
		job_dispatcher.WithLogRetention(c.LogRetentionDays, c.LogCleanSpec),
		job_dispatcher.WithExecutorTimeout(c.ExecutorTimeout),
	}
	if c.Email.Host != "" {
		opts = append(opts, job_dispatcher.WithAlarm(job_dispatcher.NewEmailAlarm(c.Email)))
	}
	return opts
}
