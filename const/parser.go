package _const

import (
	"github.com/robfig/cron/v3"
)

// Parser 运维类周期任务（日志清理、报表）使用的cron解析器，
// 与业务任务的cron表达式（带秒、年）无关
var Parser = cron.NewParser(cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const (
	// DefaultCleanSpec 默认每天凌晨执行一次清理
	DefaultCleanSpec = "@daily"
)
