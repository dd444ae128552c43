package job_dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository/dao"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAlarm struct {
	mock.Mock
}

func (m *mockAlarm) Alarm(ctx context.Context, job domain.JobDefinition, record domain.DispatchRecord) error {
	args := m.Called(ctx, job, record)
	return args.Error(0)
}

func TestRegistryMonitorSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewRegistryMonitor(store, logger.NewNopLogger(), fixedNow(now))

	auto := domain.WorkerGroup{AppName: "demo-app", AddressType: _const.AddressTypeAuto}
	require.NoError(t, store.SaveGroup(ctx, &auto))
	manual := domain.WorkerGroup{AppName: "manual-app", AddressType: _const.AddressTypeManual, AddressList: []string{"10.0.0.9:9999"}}
	require.NoError(t, store.SaveGroup(ctx, &manual))

	require.NoError(t, store.RegistryUpsert(ctx, _const.RegistryTypeExecutor, "demo-app", "10.0.0.2:9999", now))
	require.NoError(t, store.RegistryUpsert(ctx, _const.RegistryTypeExecutor, "demo-app", "10.0.0.1:9999", now.Add(-10*time.Second)))
	// 超过90秒没有心跳的节点被清理
	require.NoError(t, store.RegistryUpsert(ctx, _const.RegistryTypeExecutor, "demo-app", "10.0.0.3:9999", now.Add(-2*time.Minute)))
	require.NoError(t, store.RegistryUpsert(ctx, _const.RegistryTypeExecutor, "manual-app", "10.0.0.4:9999", now))

	require.NoError(t, m.SweepOnce(ctx))

	got, err := store.LoadGroup(ctx, auto.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:9999", "10.0.0.2:9999"}, got.AddressList)
	got, err = store.LoadGroup(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.9:9999"}, got.AddressList)

	live, err := store.FindLiveRegistrations(ctx, time.Hour, now)
	require.NoError(t, err)
	assert.Len(t, live, 3)
}

func TestRegistryMonitorRegistry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewRegistryMonitor(store, logger.NewNopLogger(), fixedNow(now))

	p := remoting.RegistryParam{RegistryGroup: string(_const.RegistryTypeExecutor), RegistryKey: "demo-app", RegistryValue: "10.0.0.1:9999"}
	assert.Equal(t, remoting.Fail(MsgIllegalArgument), m.Registry(ctx, remoting.RegistryParam{RegistryKey: "demo-app"}))
	assert.True(t, m.Registry(ctx, p).OK())
	require.NoError(t, m.Stop(ctx))

	live, err := store.FindLiveRegistrations(ctx, _const.DeadTimeout, now)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "10.0.0.1:9999", live[0].Value)

	m = NewRegistryMonitor(store, logger.NewNopLogger(), fixedNow(now))
	assert.Equal(t, remoting.Fail(MsgIllegalArgument), m.RegistryRemove(ctx, remoting.RegistryParam{}))
	assert.True(t, m.RegistryRemove(ctx, p).OK())
	require.NoError(t, m.Stop(ctx))
	live, err = store.FindLiveRegistrations(ctx, _const.DeadTimeout, now)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestFailMonitor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	alarm := &mockAlarm{}
	m := NewFailMonitor(store, submitter, alarm, logger.NewNopLogger())

	g := saveGroup(t, store, _const.AddressTypeManual, testAddresses[0])
	quiet := saveJob(t, store, g.ID, nil)
	loud := saveJob(t, store, g.ID, func(j *domain.JobDefinition) { j.AlarmEmail = "ops@example.com" })
	broken := saveJob(t, store, g.ID, func(j *domain.JobDefinition) { j.AlarmEmail = "ops@example.com" })

	retried := saveRecord(t, store, domain.DispatchRecord{
		JobID: quiet.ID, TriggerTime: time.Now(), TriggerCode: _const.CodeFail,
		FailRetryCount: 2, ExecutorParam: "p1", ShardingParam: "1/2",
	})
	alarmed := saveRecord(t, store, domain.DispatchRecord{
		JobID: loud.ID, TriggerTime: time.Now(), TriggerCode: _const.CodeSuccess,
	})
	saveHandle(t, store, domain.DispatchRecord{ID: alarmed.ID, HandleTime: time.Now(), HandleCode: _const.CodeFail})
	alarmFailed := saveRecord(t, store, domain.DispatchRecord{
		JobID: broken.ID, TriggerTime: time.Now(), TriggerCode: _const.CodeFail,
	})
	// 成功的记录不处理
	ok := saveRecord(t, store, domain.DispatchRecord{JobID: quiet.ID, TriggerTime: time.Now(), TriggerCode: _const.CodeSuccess})

	alarm.On("Alarm", mock.Anything, mock.MatchedBy(func(j domain.JobDefinition) bool { return j.ID == loud.ID }), mock.Anything).
		Return(nil).Once()
	alarm.On("Alarm", mock.Anything, mock.MatchedBy(func(j domain.JobDefinition) bool { return j.ID == broken.ID }), mock.Anything).
		Return(errors.New("smtp down")).Once()

	require.NoError(t, m.Once(ctx))
	alarm.AssertExpectations(t)

	param := "p1"
	assert.Equal(t, []TriggerRequest{{
		JobID:          quiet.ID,
		Type:           _const.TriggerRetry,
		FailRetryCount: 1,
		ShardingParam:  "1/2",
		ExecutorParam:  &param,
	}}, submitter.Requests())

	assertAlarm := func(id int64, want _const.AlarmStatus) {
		t.Helper()
		r, err := store.LoadRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, r.AlarmStatus, "log %d", id)
	}
	assertAlarm(retried.ID, _const.AlarmStatusNotNeeded)
	assertAlarm(alarmed.ID, _const.AlarmStatusAlarmed)
	assertAlarm(alarmFailed.ID, _const.AlarmStatusAlarmFailed)
	assertAlarm(ok.ID, _const.AlarmStatusPending)

	r, err := store.LoadRecord(ctx, retried.ID)
	require.NoError(t, err)
	assert.Contains(t, r.TriggerMsg, "Fail retry triggered")

	// 已处理的记录不会再次处理
	require.NoError(t, m.Once(ctx))
	assert.Len(t, submitter.Requests(), 1)
}

func TestLostMonitor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewCompleter(store, &recordingSubmitter{}, logger.NewNopLogger(), fixedNow(now))
	defer func() { _ = c.Stop(ctx) }()
	m := NewLostMonitor(store, c, logger.NewNopLogger(), fixedNow(now))

	lost := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-11 * time.Minute), TriggerCode: _const.CodeSuccess})
	fresh := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-time.Minute), TriggerCode: _const.CodeSuccess})
	failed := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-time.Hour), TriggerCode: _const.CodeFail})
	// 调度中途停止，调度结果没有写回
	interrupted := domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-11 * time.Minute)}
	require.NoError(t, store.SaveRecord(ctx, &interrupted))

	require.NoError(t, m.Once(ctx))

	got, err := store.LoadRecord(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, _const.CodeFail, got.HandleCode)
	assert.Equal(t, MsgTriggerLost, got.HandleMsg)

	got, err = store.LoadRecord(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, _const.CodeFail, got.HandleCode)
	assert.Equal(t, MsgResultLost, got.HandleMsg)
	assert.Equal(t, now.UnixMilli(), got.HandleTime.UnixMilli())

	for _, id := range []int64{fresh.ID, failed.ID} {
		got, err = store.LoadRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, got.HandleCode)
	}
}

func TestLostMonitorKeepsCallbackResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewCompleter(store, &recordingSubmitter{}, logger.NewNopLogger(), fixedNow(now))
	defer func() { _ = c.Stop(ctx) }()
	m := NewLostMonitor(store, c, logger.NewNopLogger(), fixedNow(now))

	lost := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-11 * time.Minute), TriggerCode: _const.CodeSuccess})
	// 查询之后、标记之前回调先到
	record, err := store.LoadRecord(ctx, lost.ID)
	require.NoError(t, err)
	saveHandle(t, store, domain.DispatchRecord{ID: lost.ID, HandleTime: now, HandleCode: _const.CodeSuccess, HandleMsg: "done"})

	record.HandleTime = now
	record.HandleCode = _const.CodeFail
	record.HandleMsg = MsgResultLost
	changed, err := c.UpdateHandleInfoAndFinish(ctx, record)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, m.Once(ctx))

	got, err := store.LoadRecord(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, _const.CodeSuccess, got.HandleCode)
	assert.Equal(t, "done", got.HandleMsg)
}

// loadFailStore LoadRecord总是失败
type loadFailStore struct {
	*dao.GormJobStore
}

func (s loadFailStore) LoadRecord(ctx context.Context, id int64) (domain.DispatchRecord, error) {
	return domain.DispatchRecord{}, errors.New("db gone")
}

func TestFailMonitorUnlocksOnLoadError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	submitter := &recordingSubmitter{}
	alarm := &mockAlarm{}

	g := saveGroup(t, store, _const.AddressTypeManual, testAddresses[0])
	job := saveJob(t, store, g.ID, nil)
	record := saveRecord(t, store, domain.DispatchRecord{
		JobID: job.ID, TriggerTime: time.Now(), TriggerCode: _const.CodeFail, FailRetryCount: 1,
	})

	broken := NewFailMonitor(loadFailStore{store}, submitter, alarm, logger.NewNopLogger())
	require.NoError(t, broken.Once(ctx))
	got, err := store.LoadRecord(ctx, record.ID)
	require.NoError(t, err)
	// 没有停留在锁定状态
	assert.Equal(t, _const.AlarmStatusPending, got.AlarmStatus)
	assert.Empty(t, submitter.Requests())

	m := NewFailMonitor(store, submitter, alarm, logger.NewNopLogger())
	require.NoError(t, m.Once(ctx))
	assert.Len(t, submitter.Requests(), 1)
	got, err = store.LoadRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, _const.AlarmStatusNotNeeded, got.AlarmStatus)
}

func TestLostRecordRetriedOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	submitter := &recordingSubmitter{}
	c := NewCompleter(store, submitter, logger.NewNopLogger(), fixedNow(now))
	defer func() { _ = c.Stop(ctx) }()
	lostMonitor := NewLostMonitor(store, c, logger.NewNopLogger(), fixedNow(now))
	failMonitor := NewFailMonitor(store, submitter, &mockAlarm{}, logger.NewNopLogger())

	g := saveGroup(t, store, _const.AddressTypeManual, testAddresses[0])
	job := saveJob(t, store, g.ID, nil)
	lost := saveRecord(t, store, domain.DispatchRecord{
		JobID: job.ID, TriggerTime: now.Add(-11 * time.Minute), TriggerCode: _const.CodeSuccess,
		FailRetryCount: 1, ExecutorParam: "p",
	})

	require.NoError(t, lostMonitor.Once(ctx))
	require.NoError(t, failMonitor.Once(ctx))
	param := "p"
	want := []TriggerRequest{{JobID: job.ID, Type: _const.TriggerRetry, FailRetryCount: 0, ExecutorParam: &param}}
	assert.Equal(t, want, submitter.Requests())

	// 再跑一轮不会重复重试
	require.NoError(t, lostMonitor.Once(ctx))
	require.NoError(t, failMonitor.Once(ctx))
	assert.Equal(t, want, submitter.Requests())

	// 重试这次的结果也丢了，重试次数已用完
	retried := saveRecord(t, store, domain.DispatchRecord{
		JobID: job.ID, TriggerTime: now.Add(-11 * time.Minute), TriggerCode: _const.CodeSuccess,
		TriggerType: _const.TriggerRetry, FailRetryCount: 0, ExecutorParam: "p",
	})
	require.NoError(t, lostMonitor.Once(ctx))
	require.NoError(t, failMonitor.Once(ctx))
	assert.Equal(t, want, submitter.Requests())

	for _, id := range []int64{lost.ID, retried.ID} {
		got, err := store.LoadRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, _const.CodeFail, got.HandleCode)
		assert.Equal(t, _const.AlarmStatusNotNeeded, got.AlarmStatus)
	}
}

func TestHeartbeatExpiryLeavesRoundRotation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	nowFn := func() time.Time { return clock }
	registry := NewRegistryMonitor(store, logger.NewNopLogger(), nowFn)
	clients := newFakeClients()
	trigger := NewJobTrigger(store, clients, "", logger.NewNopLogger(), nowFn)

	g := domain.WorkerGroup{AppName: "round-app", AddressType: _const.AddressTypeAuto}
	require.NoError(t, store.SaveGroup(ctx, &g))
	job := saveJob(t, store, g.ID, func(j *domain.JobDefinition) { j.RouteStrategy = _const.RouteRound })

	beat := func(addrs ...string) {
		for _, addr := range addrs {
			require.NoError(t, store.RegistryUpsert(ctx, _const.RegistryTypeExecutor, "round-app", addr, clock))
		}
		require.NoError(t, registry.SweepOnce(ctx))
	}
	fire := func(n int) {
		for i := 0; i < n; i++ {
			trigger.Trigger(ctx, TriggerRequest{JobID: job.ID, Type: _const.TriggerCron, FailRetryCount: -1})
		}
	}

	beat(testAddresses[0], testAddresses[1])
	fire(4)
	assert.Len(t, clients.executor(testAddresses[0]).Runs(), 2)
	assert.Len(t, clients.executor(testAddresses[1]).Runs(), 2)

	// 第二台停止心跳超过90秒
	clock = now.Add(2 * time.Minute)
	beat(testAddresses[0])
	got, err := store.LoadGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{testAddresses[0]}, got.AddressList)

	fire(3)
	assert.Len(t, clients.executor(testAddresses[0]).Runs(), 5)
	assert.Len(t, clients.executor(testAddresses[1]).Runs(), 2)
}

func TestLogReporter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	r := NewLogReporter(store, 7, "", time.UTC, logger.NewNopLogger(), fixedNow(now))

	// 今天：一个运行中、一个成功、一个失败；昨天：一个成功
	running := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-time.Hour), TriggerCode: _const.CodeSuccess})
	suc := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-2 * time.Hour), TriggerCode: _const.CodeSuccess})
	saveHandle(t, store, domain.DispatchRecord{ID: suc.ID, HandleTime: now, HandleCode: _const.CodeSuccess})
	saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-3 * time.Hour), TriggerCode: _const.CodeFail})
	yesterday := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.Add(-24 * time.Hour), TriggerCode: _const.CodeSuccess})
	saveHandle(t, store, domain.DispatchRecord{ID: yesterday.ID, HandleTime: now, HandleCode: _const.CodeSuccess})
	old := saveRecord(t, store, domain.DispatchRecord{JobID: 1, TriggerTime: now.AddDate(0, 0, -8), TriggerCode: _const.CodeFail})

	require.NoError(t, r.ReportOnce(ctx))
	today := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	reports, err := store.FindReports(ctx, today.AddDate(0, 0, -2), today)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, domain.LogReport{Day: time.UnixMilli(today.AddDate(0, 0, -2).UnixMilli())}, reports[0])
	assert.Equal(t, int64(1), reports[1].SucCount)
	assert.Equal(t, int64(0), reports[1].FailCount)
	assert.Equal(t, int64(1), reports[2].RunningCount)
	assert.Equal(t, int64(1), reports[2].SucCount)
	assert.Equal(t, int64(1), reports[2].FailCount)

	// 重复统计覆盖已有的报表行
	require.NoError(t, r.ReportOnce(ctx))
	reports, err = store.FindReports(ctx, today.AddDate(0, 0, -2), today)
	require.NoError(t, err)
	assert.Len(t, reports, 3)

	n, err := r.CleanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.LoadRecord(ctx, old.ID)
	assert.Error(t, err)
	_, err = store.LoadRecord(ctx, running.ID)
	assert.NoError(t, err)
}

func TestLogReporterCleanDisabled(t *testing.T) {
	store := newTestStore(t)
	r := NewLogReporter(store, 0, "", time.UTC, logger.NewNopLogger(), time.Now)
	n, err := r.CleanOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
