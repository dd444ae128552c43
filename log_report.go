package job_dispatcher

import (
	"context"
	"fmt"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/repository"
	"github.com/robfig/cron/v3"
)

const (
	reportInterval = time.Minute
	reportDays     = 3
	cleanBatchSize = 1000
)

// LogReporter 每分钟刷新最近三天的调度统计，并按保留天数定期清理调度记录
type LogReporter struct {
	store         repository.JobStore
	retentionDays int
	cleanSpec     string
	loc           *time.Location
	logger        logger.Logger
	now           nowFunc
}

func NewLogReporter(store repository.JobStore, retentionDays int, cleanSpec string, loc *time.Location,
	l logger.Logger, now nowFunc) *LogReporter {
	if cleanSpec == "" {
		cleanSpec = _const.DefaultCleanSpec
	}
	if loc == nil {
		loc = time.Local
	}
	return &LogReporter{
		store:         store,
		retentionDays: retentionDays,
		cleanSpec:     cleanSpec,
		loc:           loc,
		logger:        l,
		now:           now,
	}
}

// Run 阻塞直到ctx取消
func (r *LogReporter) Run(ctx context.Context) error {
	var c *cron.Cron
	if r.retentionDays > 0 {
		c = cron.New(cron.WithParser(_const.Parser), cron.WithLocation(r.loc))
		_, err := c.AddFunc(r.cleanSpec, func() {
			n, err := r.CleanOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("failed to clean dispatch records", logger.Error(err))
				return
			}
			r.logger.Info("dispatch records cleaned", logger.Field{Key: "count", Val: n})
		})
		if err != nil {
			return fmt.Errorf("invalid clean spec %q: %w", r.cleanSpec, err)
		}
		c.Start()
	}

	runLoop(ctx, r.logger, "log report", reportInterval, r.ReportOnce)

	if c != nil {
		<-c.Stop().Done()
	}
	return nil
}

// ReportOnce 刷新今天及之前两天的统计
func (r *LogReporter) ReportOnce(ctx context.Context) error {
	now := r.now().In(r.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	for i := 0; i < reportDays; i++ {
		from := today.AddDate(0, 0, -i)
		report, err := r.store.CountReport(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		if err = r.store.UpsertReport(ctx, report); err != nil {
			return err
		}
	}
	return nil
}

// CleanOnce 分批删除超过保留天数的调度记录，返回删除条数
func (r *LogReporter) CleanOnce(ctx context.Context) (int, error) {
	if r.retentionDays <= 0 {
		return 0, nil
	}
	before := r.now().AddDate(0, 0, -r.retentionDays)
	total := 0
	for {
		ids, err := r.store.FindRecordIDsBefore(ctx, before, cleanBatchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		if err = r.store.DeleteRecords(ctx, ids); err != nil {
			return total, err
		}
		total += len(ids)
	}
}
