package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	mu         sync.Mutex
	fail       bool
	callbacks  []remoting.HandleCallbackParam
	registries []remoting.RegistryParam
	removes    []remoting.RegistryParam
}

func (f *fakeAdmin) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeAdmin) result() remoting.ReturnT {
	if f.fail {
		return remoting.Fail("admin down")
	}
	return remoting.Success()
}

func (f *fakeAdmin) Callback(_ context.Context, params []remoting.HandleCallbackParam) remoting.ReturnT {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fail {
		f.callbacks = append(f.callbacks, params...)
	}
	return f.result()
}

func (f *fakeAdmin) Registry(_ context.Context, p remoting.RegistryParam) remoting.ReturnT {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registries = append(f.registries, p)
	return f.result()
}

func (f *fakeAdmin) RegistryRemove(_ context.Context, p remoting.RegistryParam) remoting.ReturnT {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, p)
	return f.result()
}

func (f *fakeAdmin) Callbacks() []remoting.HandleCallbackParam {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoting.HandleCallbackParam(nil), f.callbacks...)
}

func newTestExecutor(t *testing.T, opts ...Options) *Executor {
	t.Helper()
	e, err := New(append([]Options{WithLogPath(t.TempDir())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { stopThreads(e) })
	return e
}

// stopThreads 停止未启动的执行器上残留的任务线程
func stopThreads(e *Executor) {
	e.mu.Lock()
	threads := make([]*jobThread, 0, len(e.threads))
	for id, t := range e.threads {
		t.stop(MsgDestroy, false)
		threads = append(threads, t)
		delete(e.threads, id)
	}
	e.mu.Unlock()
	for _, t := range threads {
		select {
		case <-t.done:
		case <-time.After(5 * time.Second):
		}
	}
}

// collectCallbacks 从内存队列中收集至少n个执行结果
func collectCallbacks(t *testing.T, e *Executor, n int) []remoting.HandleCallbackParam {
	t.Helper()
	var got []remoting.HandleCallbackParam
	require.Eventually(t, func() bool {
		got = append(got, e.callbacks.drain()...)
		return len(got) >= n
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

func triggerParam(jobID, logID int64, handler string) remoting.TriggerParam {
	return remoting.TriggerParam{
		JobID:           jobID,
		ExecutorHandler: handler,
		ExecutorParams:  "p",
		LogID:           logID,
		LogDateTime:     time.Now().UnixMilli(),
		BroadcastTotal:  1,
	}
}
