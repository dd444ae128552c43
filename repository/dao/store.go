package dao

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormJobStore struct {
	db *gorm.DB
}

var _ repository.JobStore = (*GormJobStore)(nil)

func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

// Migrate 建表并初始化调度锁
func (s *GormJobStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&JobInfo{}, &JobGroup{}, &JobRegistry{}, &JobLog{}, &JobLogReport{}, &JobLock{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&JobLock{LockName: ScheduleLockName}).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

func (s *GormJobStore) WithScheduleLock(ctx context.Context,
	fn func(ctx context.Context, tx repository.JobStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SELECT ... FOR UPDATE，sqlite不支持行锁，由其事务串行化保证
		var lock JobLock
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lock_name = ?", ScheduleLockName).First(&lock).Error
		if err != nil {
			return fmt.Errorf("failed to acquire schedule lock: %w", err)
		}
		return fn(ctx, &GormJobStore{db: tx})
	})
}

func (s *GormJobStore) LoadJob(ctx context.Context, id int64) (domain.JobDefinition, error) {
	var job JobInfo
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return domain.JobDefinition{}, notFound(err)
	}
	return job.toDomain(), nil
}

func (s *GormJobStore) SaveJob(ctx context.Context, job *domain.JobDefinition) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	model := newJobInfo(*job)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	job.ID = model.ID
	return nil
}

func (s *GormJobStore) UpdateJob(ctx context.Context, job domain.JobDefinition) error {
	job.UpdatedAt = time.Now()
	model := newJobInfo(job)
	res := s.db.WithContext(ctx).Model(&JobInfo{}).Where("id = ?", job.ID).
		Select("*").Omit("id", "add_time").Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *GormJobStore) DeleteJob(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&JobInfo{}).Error
}

func (s *GormJobStore) ScheduleJobQuery(ctx context.Context, maxNextMs int64, limit int) ([]domain.JobDefinition, error) {
	var jobs []JobInfo
	err := s.db.WithContext(ctx).
		Where("trigger_status = ? AND trigger_next_time <= ?", int(_const.JobStatusRunning), maxNextMs).
		Order("id ASC").Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.JobDefinition, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, j.toDomain())
	}
	return res, nil
}

func (s *GormJobStore) ScheduleUpdate(ctx context.Context, job domain.JobDefinition) error {
	return s.db.WithContext(ctx).Model(&JobInfo{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"trigger_last_time": job.TriggerLastTime,
			"trigger_next_time": job.TriggerNextTime,
			"trigger_status":    int(job.Status),
		}).Error
}

func (s *GormJobStore) LoadGroup(ctx context.Context, id int64) (domain.WorkerGroup, error) {
	var group JobGroup
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&group).Error; err != nil {
		return domain.WorkerGroup{}, notFound(err)
	}
	return group.toDomain(), nil
}

func (s *GormJobStore) SaveGroup(ctx context.Context, group *domain.WorkerGroup) error {
	model := JobGroup{
		AppName:     group.AppName,
		Title:       group.Title,
		AddressType: int(group.AddressType),
		AddressList: strings.Join(group.AddressList, ","),
		UpdatedTime: time.Now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	group.ID = model.ID
	return nil
}

func (s *GormJobStore) FindGroupsByAddressType(ctx context.Context, typ _const.AddressType) ([]domain.WorkerGroup, error) {
	var groups []JobGroup
	if err := s.db.WithContext(ctx).Where("address_type = ?", int(typ)).
		Order("id ASC").Find(&groups).Error; err != nil {
		return nil, err
	}
	res := make([]domain.WorkerGroup, 0, len(groups))
	for _, g := range groups {
		res = append(res, g.toDomain())
	}
	return res, nil
}

func (s *GormJobStore) UpdateGroupAddressList(ctx context.Context, id int64, addresses []string, now time.Time) error {
	return s.db.WithContext(ctx).Model(&JobGroup{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"address_list": strings.Join(addresses, ","),
			"update_time":  now.UnixMilli(),
		}).Error
}

func (s *GormJobStore) RegistryUpsert(ctx context.Context, group _const.RegistryType, key, value string, now time.Time) error {
	row := JobRegistry{
		RegistryGroup: string(group),
		RegistryKey:   key,
		RegistryValue: value,
		UpdatedTime:   now.UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "registry_group"}, {Name: "registry_key"}, {Name: "registry_value"}},
		DoUpdates: clause.AssignmentColumns([]string{"update_time"}),
	}).Create(&row).Error
}

func (s *GormJobStore) RegistryDelete(ctx context.Context, group _const.RegistryType, key, value string) error {
	return s.db.WithContext(ctx).
		Where("registry_group = ? AND registry_key = ? AND registry_value = ?", string(group), key, value).
		Delete(&JobRegistry{}).Error
}

func (s *GormJobStore) FindDeadRegistrations(ctx context.Context, timeout time.Duration, now time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&JobRegistry{}).
		Where("update_time < ?", now.Add(-timeout).UnixMilli()).
		Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

func (s *GormJobStore) RemoveRegistrations(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&JobRegistry{}).Error
}

func (s *GormJobStore) FindLiveRegistrations(ctx context.Context, timeout time.Duration, now time.Time) ([]domain.Registration, error) {
	var rows []JobRegistry
	err := s.db.WithContext(ctx).Where("update_time >= ?", now.Add(-timeout).UnixMilli()).
		Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Registration, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.Registration{
			ID:        r.ID,
			Group:     _const.RegistryType(r.RegistryGroup),
			Key:       r.RegistryKey,
			Value:     r.RegistryValue,
			UpdatedAt: fromMillis(r.UpdatedTime),
		})
	}
	return res, nil
}

func (s *GormJobStore) SaveRecord(ctx context.Context, record *domain.DispatchRecord) error {
	model := newJobLog(*record)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	record.ID = model.ID
	return nil
}

func (s *GormJobStore) LoadRecord(ctx context.Context, id int64) (domain.DispatchRecord, error) {
	var l JobLog
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		return domain.DispatchRecord{}, notFound(err)
	}
	return l.toDomain(), nil
}

func (s *GormJobStore) UpdateTriggerInfo(ctx context.Context, record domain.DispatchRecord) error {
	return s.db.WithContext(ctx).Model(&JobLog{}).Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"trigger_time":              toMillis(record.TriggerTime),
			"trigger_code":              record.TriggerCode,
			"trigger_msg":               record.TriggerMsg,
			"executor_address":          record.ExecutorAddress,
			"executor_handler":          record.HandlerName,
			"executor_param":            record.ExecutorParam,
			"executor_sharding_param":   record.ShardingParam,
			"executor_fail_retry_count": record.FailRetryCount,
		}).Error
}

func (s *GormJobStore) UpdateHandleInfo(ctx context.Context, record domain.DispatchRecord) (bool, error) {
	// 执行结果只写一次，回调、结果丢失和终止之间先到先得
	res := s.db.WithContext(ctx).Model(&JobLog{}).Where("id = ? AND handle_code = 0", record.ID).
		Updates(map[string]interface{}{
			"handle_time": toMillis(record.HandleTime),
			"handle_code": record.HandleCode,
			"handle_msg":  record.HandleMsg,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormJobStore) FindFailRecordIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&JobLog{}).
		Where("NOT ((trigger_code IN (0, ?) AND handle_code = 0) OR handle_code = ?) AND alarm_status = ?",
			_const.CodeSuccess, _const.CodeSuccess, int(_const.AlarmStatusPending)).
		Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

func (s *GormJobStore) UpdateAlarmStatus(ctx context.Context, id int64, from, to _const.AlarmStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&JobLog{}).
		Where("id = ? AND alarm_status = ?", id, int(from)).
		Update("alarm_status", int(to))
	if res.Error != nil {
		return false, res.Error
	}
	// 没有更新到说明已被其他监控线程抢占
	return res.RowsAffected == 1, nil
}

func (s *GormJobStore) FindLostRecordIDs(ctx context.Context, before time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&JobLog{}).
		Where("trigger_code IN (0, ?) AND handle_code = 0 AND trigger_time <= ?", _const.CodeSuccess, before.UnixMilli()).
		Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

func (s *GormJobStore) FindRecordIDsBefore(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&JobLog{}).
		Where("trigger_time < ?", before.UnixMilli()).
		Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

func (s *GormJobStore) DeleteRecords(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&JobLog{}).Error
}

func (s *GormJobStore) CountReport(ctx context.Context, from, to time.Time) (domain.LogReport, error) {
	var row struct {
		Total   int64
		Running int64
		Suc     int64
	}
	err := s.db.WithContext(ctx).Model(&JobLog{}).
		Select("COUNT(1) AS total, "+
			"COALESCE(SUM(CASE WHEN trigger_code IN (0, ?) AND handle_code = 0 THEN 1 ELSE 0 END), 0) AS running, "+
			"COALESCE(SUM(CASE WHEN handle_code = ? THEN 1 ELSE 0 END), 0) AS suc",
			_const.CodeSuccess, _const.CodeSuccess).
		Where("trigger_time >= ? AND trigger_time < ?", from.UnixMilli(), to.UnixMilli()).
		Scan(&row).Error
	if err != nil {
		return domain.LogReport{}, err
	}
	return domain.LogReport{
		Day:          from,
		RunningCount: row.Running,
		SucCount:     row.Suc,
		FailCount:    row.Total - row.Running - row.Suc,
	}, nil
}

func (s *GormJobStore) UpsertReport(ctx context.Context, report domain.LogReport) error {
	row := JobLogReport{
		TriggerDay:   report.Day.UnixMilli(),
		RunningCount: report.RunningCount,
		SucCount:     report.SucCount,
		FailCount:    report.FailCount,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trigger_day"}},
		DoUpdates: clause.AssignmentColumns([]string{"running_count", "suc_count", "fail_count"}),
	}).Create(&row).Error
}

// FindReports 按天升序返回 [from, to] 内的统计
func (s *GormJobStore) FindReports(ctx context.Context, from, to time.Time) ([]domain.LogReport, error) {
	var rows []JobLogReport
	err := s.db.WithContext(ctx).
		Where("trigger_day >= ? AND trigger_day <= ?", from.UnixMilli(), to.UnixMilli()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TriggerDay < rows[j].TriggerDay })
	res := make([]domain.LogReport, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.LogReport{
			Day:          time.UnixMilli(r.TriggerDay),
			RunningCount: r.RunningCount,
			SucCount:     r.SucCount,
			FailCount:    r.FailCount,
		})
	}
	return res, nil
}
