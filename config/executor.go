package config

import (
	"time"

	"github.com/TimeWtr/job_dispatcher/executor"
	"github.com/TimeWtr/job_dispatcher/logger"
)

// ExecutorConfig 执行器进程配置
type ExecutorConfig struct {
	// AdminAddresses 调度中心地址，支持列表或逗号分隔
	AdminAddresses []string `koanf:"admin_addresses"`
	AccessToken    string   `koanf:"access_token"`
	AppName        string   `koanf:"app_name"`
	// Address 为空时使用 http://ip:port/
	Address string `koanf:"address"`
	IP      string `koanf:"ip"`
	Port    int    `koanf:"port"`
	LogPath string `koanf:"log_path"`
	// LogRetentionDays 小于3时不清理
	LogRetentionDays int            `koanf:"log_retention_days"`
	Timezone         string         `koanf:"timezone"`
	Log              logger.Options `koanf:"log"`
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Port:             executor.DefaultPort,
		LogRetentionDays: 30,
		Log:              logger.Options{Level: "info", Format: "json"},
	}
}

func (c *ExecutorConfig) Validate() error {
	if len(c.AdminAddresses) > 0 && c.AppName == "" {
		return invalid("app_name is required when admin_addresses is set")
	}
	for _, addr := range c.AdminAddresses {
		if addr == "" {
			return invalid("admin_addresses contains an empty address")
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return invalid("port %d out of range", c.Port)
	}
	if c.LogRetentionDays < 0 {
		return invalid("log_retention_days must be >= 0")
	}
	_, err := loadLocation(c.Timezone)
	return err
}

func (c *ExecutorConfig) Location() *time.Location {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *ExecutorConfig) Options(l logger.Logger) []executor.Options {
	opts := []executor.Options{
		executor.WithLogger(l),
		executor.WithAdminAddresses(c.AdminAddresses...),
		executor.WithAccessToken(c.AccessToken),
		executor.WithAppName(c.AppName),
		executor.WithAddress(c.Address),
		executor.WithIP(c.IP),
		executor.WithPort(c.Port),
		executor.WithLogRetentionDays(c.LogRetentionDays),
		executor.WithLocation(c.Location()),
	}
	if c.LogPath != "" {
		opts = append(opts, executor.WithLogPath(c.LogPath))
	}
	return opts
}
