package job_dispatcher

import (
	"context"
	"testing"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/cronclock"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerScanOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	g := saveGroup(t, store, _const.AddressTypeManual, testAddresses[0])
	now := time.Date(2024, 3, 1, 10, 0, 0, 300_000_000, time.UTC)
	nowMs := now.UnixMilli()

	running := func(next int64, conf string, misfire _const.MisfireStrategy) func(j *domain.JobDefinition) {
		return func(j *domain.JobDefinition) {
			j.Status = _const.JobStatusRunning
			j.ScheduleConf = conf
			j.MisfireStrategy = misfire
			j.TriggerNextTime = next
		}
	}
	// 窗口内过期，触发后下次时间超出窗口
	overdue := saveJob(t, store, g.ID, running(nowMs-2000, "10", _const.MisfireDoNothing))
	// 窗口内过期，触发后下次时间仍在窗口内，再入时间轮
	overdueShort := saveJob(t, store, g.ID, running(nowMs-1000, "3", _const.MisfireDoNothing))
	// 尚未到期，入时间轮
	upcoming := saveJob(t, store, g.ID, running(nowMs+2000, "10", _const.MisfireDoNothing))
	misfireNow := saveJob(t, store, g.ID, running(nowMs-10_000, "10", _const.MisfireFireOnceNow))
	misfireSkip := saveJob(t, store, g.ID, running(nowMs-10_000, "10", _const.MisfireDoNothing))
	// 窗口之外，本轮不处理
	later := saveJob(t, store, g.ID, running(nowMs+60_000, "10", _const.MisfireDoNothing))
	// 没有下次触发时间，自动停止
	expired := saveJob(t, store, g.ID, func(j *domain.JobDefinition) {
		running(nowMs+1000, "", _const.MisfireDoNothing)(j)
		j.ScheduleType = _const.ScheduleTypeCron
		j.ScheduleConf = "0 0 0 1 1 ? 2020"
	})
	stopped := saveJob(t, store, g.ID, func(j *domain.JobDefinition) {
		j.TriggerNextTime = nowMs - 1000
	})

	submitter := &recordingSubmitter{}
	s := NewScheduler(store, cronclock.NewClock(time.UTC), submitter, 100, logger.NewNopLogger(), fixedNow(now))
	preRead, err := s.ScanOnce(ctx)
	require.NoError(t, err)
	assert.True(t, preRead)

	assert.ElementsMatch(t, []TriggerRequest{
		{JobID: overdue.ID, Type: _const.TriggerCron, FailRetryCount: -1},
		{JobID: overdueShort.ID, Type: _const.TriggerCron, FailRetryCount: -1},
		{JobID: misfireNow.ID, Type: _const.TriggerMisfire, FailRetryCount: -1},
	}, submitter.Requests())

	assertNext := func(id, last, next int64, status _const.JobStatus) {
		t.Helper()
		job, err := store.LoadJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, job.Status, "job %d", id)
		assert.Equal(t, last, job.TriggerLastTime, "job %d", id)
		assert.Equal(t, next, job.TriggerNextTime, "job %d", id)
	}
	assertNext(overdue.ID, nowMs-2000, nowMs+9700, _const.JobStatusRunning)
	assertNext(overdueShort.ID, nowMs+2700, nowMs+5700, _const.JobStatusRunning)
	assertNext(upcoming.ID, nowMs+2000, nowMs+11_700, _const.JobStatusRunning)
	assertNext(misfireNow.ID, nowMs-10_000, nowMs+9700, _const.JobStatusRunning)
	assertNext(misfireSkip.ID, nowMs-10_000, nowMs+9700, _const.JobStatusRunning)
	assertNext(later.ID, 0, nowMs+60_000, _const.JobStatusRunning)
	assertNext(expired.ID, 0, 0, _const.JobStatusStopped)
	assertNext(stopped.ID, 0, nowMs-1000, _const.JobStatusStopped)

	assert.Equal(t, 3, s.wheel.Len())
	assert.Equal(t, []int64{expired.ID}, s.wheel.Drain(ringSecond(nowMs+1000)))
	assert.Equal(t, []int64{overdueShort.ID}, s.wheel.Drain(ringSecond(nowMs+2700)))
	assert.Equal(t, []int64{upcoming.ID}, s.wheel.Drain(ringSecond(nowMs+2000)))
}

func TestSchedulerFixedRateNoDrift(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	g := saveGroup(t, store, _const.AddressTypeManual, testAddresses[0])
	first := time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC)
	job := saveJob(t, store, g.ID, func(j *domain.JobDefinition) {
		j.Status = _const.JobStatusRunning
		j.ScheduleConf = "10"
		j.TriggerNextTime = first.UnixMilli()
	})

	clock := first
	submitter := &recordingSubmitter{}
	s := NewScheduler(store, cronclock.NewClock(time.UTC), submitter, 100,
		logger.NewNopLogger(), func() time.Time { return clock })

	fire := first
	// 交替覆盖预读入时间轮和到期后立即触发两条路径，扫描时刻带毫秒偏移
	offsets := []time.Duration{-700 * time.Millisecond, 400 * time.Millisecond, -250 * time.Millisecond}
	for i, offset := range offsets {
		clock = fire.Add(offset)
		_, err := s.ScanOnce(ctx)
		require.NoError(t, err)

		got, err := store.LoadJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, fire.UnixMilli(), got.TriggerLastTime, "cycle %d", i)
		fire = fire.Add(10 * time.Second)
		assert.Equal(t, fire.UnixMilli(), got.TriggerNextTime, "cycle %d", i)
	}
	assert.Equal(t, first.Add(30*time.Second).UnixMilli(), fire.UnixMilli())
	// 第二轮走立即触发，其余两轮进时间轮
	assert.Len(t, submitter.Requests(), 1)
	assert.Equal(t, 2, s.wheel.Len())
}

func TestSchedulerScanOnceEmpty(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, cronclock.NewClock(time.UTC), &recordingSubmitter{}, 100,
		logger.NewNopLogger(), time.Now)
	preRead, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, preRead)
}

func TestSchedulerRingOnce(t *testing.T) {
	submitter := &recordingSubmitter{}
	s := NewScheduler(nil, cronclock.NewClock(time.UTC), submitter, 100, logger.NewNopLogger(), time.Now)
	s.wheel.Push(5, 1)
	s.wheel.Push(4, 2)
	s.wheel.Push(10, 3)

	s.RingOnce(context.Background(), 5)

	var ids []int64
	for _, req := range submitter.Requests() {
		assert.Equal(t, _const.TriggerCron, req.Type)
		ids = append(ids, req.JobID)
	}
	assert.ElementsMatch(t, []int64{1, 2}, ids)
	assert.Equal(t, 1, s.wheel.Len())
}

func TestSchedulerStartStop(t *testing.T) {
	store := newTestStore(t)
	s := NewScheduler(store, cronclock.NewClock(time.UTC), &recordingSubmitter{}, 100,
		logger.NewNopLogger(), time.Now)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrSchedulerStarted)

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	select {
	case <-s.scanDone:
	default:
		t.Fatal("scan loop still running")
	}
	select {
	case <-s.ringDone:
	default:
		t.Fatal("ring loop still running")
	}
}
