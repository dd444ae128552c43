package job_dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository/dao"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *dao.GormJobStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := dao.Open(context.Background(), dao.Config{
		Dialect:      "sqlite",
		DSN:          fmt.Sprintf("file:admin_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fixedNow(t time.Time) nowFunc {
	return func() time.Time { return t }
}

type fakeExecutor struct {
	mu      sync.Mutex
	runs    []remoting.TriggerParam
	kills   []int64
	runRes  remoting.ReturnT
	beatRes remoting.ReturnT
	idleRes remoting.ReturnT
	// delay 模拟执行器的响应耗时
	delay time.Duration
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{runRes: remoting.Success(), beatRes: remoting.Success(), idleRes: remoting.Success()}
}

func (f *fakeExecutor) Beat(ctx context.Context) remoting.ReturnT {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beatRes
}

func (f *fakeExecutor) IdleBeat(ctx context.Context, p remoting.IdleBeatParam) remoting.ReturnT {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idleRes
}

func (f *fakeExecutor) Run(ctx context.Context, p remoting.TriggerParam) remoting.ReturnT {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return remoting.Fail(ctx.Err().Error())
		case <-time.After(delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, p)
	return f.runRes
}

func (f *fakeExecutor) Kill(ctx context.Context, p remoting.KillParam) remoting.ReturnT {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, p.JobID)
	return remoting.Success()
}

func (f *fakeExecutor) Log(ctx context.Context, p remoting.LogParam) remoting.LogReturnT {
	return remoting.LogReturnT{Code: 200, Content: &remoting.LogResult{FromLineNum: p.FromLineNum, ToLineNum: p.FromLineNum, LogContent: "line", IsEnd: true}}
}

func (f *fakeExecutor) Runs() []remoting.TriggerParam {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoting.TriggerParam(nil), f.runs...)
}

type fakeClients struct {
	mu sync.Mutex
	m  map[string]*fakeExecutor
}

func newFakeClients() *fakeClients {
	return &fakeClients{m: make(map[string]*fakeExecutor)}
}

func (f *fakeClients) Get(address string) remoting.ExecutorBiz {
	return f.executor(address)
}

func (f *fakeClients) executor(address string) *fakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.m[address]
	if !ok {
		e = newFakeExecutor()
		f.m[address] = e
	}
	return e
}

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []TriggerRequest
}

func (r *recordingSubmitter) Submit(ctx context.Context, req TriggerRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *recordingSubmitter) Requests() []TriggerRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TriggerRequest(nil), r.reqs...)
}

func saveGroup(t *testing.T, store *dao.GormJobStore, typ _const.AddressType, addresses ...string) domain.WorkerGroup {
	t.Helper()
	g := domain.WorkerGroup{AppName: "app-" + strings.Join(addresses, "_"), AddressType: typ, AddressList: addresses}
	require.NoError(t, store.SaveGroup(context.Background(), &g))
	return g
}

func saveJob(t *testing.T, store *dao.GormJobStore, groupID int64, mutate func(j *domain.JobDefinition)) domain.JobDefinition {
	t.Helper()
	j := domain.JobDefinition{
		GroupID:         groupID,
		Description:     "test job",
		ScheduleType:    _const.ScheduleTypeFixedRate,
		ScheduleConf:    "10",
		MisfireStrategy: _const.MisfireDoNothing,
		RouteStrategy:   _const.RouteFirst,
		BlockStrategy:   _const.BlockSerial,
		HandlerName:     "demoHandler",
		HandlerParam:    "p",
	}
	if mutate != nil {
		mutate(&j)
	}
	require.NoError(t, store.SaveJob(context.Background(), &j))
	return j
}
