package job_dispatcher

import (
	"context"
	"testing"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddresses = []string{"10.0.0.1:9999", "10.0.0.2:9999", "10.0.0.3:9999"}

func TestStaticRouters(t *testing.T) {
	ctx := context.Background()
	param := remoting.TriggerParam{JobID: 1}
	table := newRouterTable(newFakeClients(), time.Now)

	testCases := []struct {
		name     string
		strategy _const.RouteStrategy
		wantAddr string
	}{
		{name: "first", strategy: _const.RouteFirst, wantAddr: testAddresses[0]},
		{name: "last", strategy: _const.RouteLast, wantAddr: testAddresses[2]},
		{name: "unknown falls back to first", strategy: "UNKNOWN", wantAddr: testAddresses[0]},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			addr, res := table.Route(ctx, tc.strategy, param, testAddresses)
			assert.True(t, res.OK())
			assert.Equal(t, tc.wantAddr, addr)
		})
	}

	addr, res := table.Route(ctx, _const.RouteRandom, param, testAddresses)
	assert.True(t, res.OK())
	assert.Contains(t, testAddresses, addr)
}

func TestRoutersEmptyAddressList(t *testing.T) {
	table := newRouterTable(newFakeClients(), time.Now)
	for strategy := range table {
		addr, res := table.Route(context.Background(), strategy, remoting.TriggerParam{JobID: 1}, nil)
		assert.Empty(t, addr, strategy)
		assert.Equal(t, _const.CodeFail, res.Code, strategy)
		assert.Equal(t, msgAddressEmpty, res.Msg, strategy)
	}
}

func TestRoundRouter(t *testing.T) {
	r := newRoundRouter(time.Now)
	param := remoting.TriggerParam{JobID: 7}
	seen := make(map[string]struct{})
	prev := ""
	for i := 0; i < len(testAddresses); i++ {
		addr, res := r.Route(context.Background(), param, testAddresses)
		require.True(t, res.OK())
		assert.NotEqual(t, prev, addr)
		seen[addr] = struct{}{}
		prev = addr
	}
	assert.Len(t, seen, len(testAddresses))
}

func TestRoundRouterResetsDaily(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newRoundRouter(func() time.Time { return now })
	r.next(1)
	assert.Len(t, r.counts, 1)
	now = now.Add(25 * time.Hour)
	r.next(2)
	_, ok := r.counts[1]
	assert.False(t, ok)
}

func TestLFURouter(t *testing.T) {
	r := newLFURouter(time.Now)
	param := remoting.TriggerParam{JobID: 1}
	addrs := testAddresses[:2]

	// 初始计数相差不超过1，三次内两台都会被选中
	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		addr, res := r.Route(context.Background(), param, addrs)
		require.True(t, res.OK())
		seen[addr]++
	}
	assert.Len(t, seen, 2)

	// 下线的地址不再参与选择
	addr, _ := r.Route(context.Background(), param, testAddresses[1:2])
	assert.Equal(t, testAddresses[1], addr)
	assert.NotContains(t, r.counts[1], testAddresses[0])
}

func TestLRURouter(t *testing.T) {
	r := newLRURouter(time.Now)
	param := remoting.TriggerParam{JobID: 1}

	var got []string
	for i := 0; i < 4; i++ {
		addr, res := r.Route(context.Background(), param, testAddresses)
		require.True(t, res.OK())
		got = append(got, addr)
	}
	assert.Equal(t, []string{testAddresses[0], testAddresses[1], testAddresses[2], testAddresses[0]}, got)

	// 移除最久未使用的地址后，选择下一个
	addr, _ := r.Route(context.Background(), param, []string{testAddresses[0], testAddresses[2]})
	assert.Equal(t, testAddresses[2], addr)
}

func TestConsistentHashRouter(t *testing.T) {
	r := consistentHashRouter{}
	param := remoting.TriggerParam{JobID: 42}
	addr1, res := r.Route(context.Background(), param, testAddresses)
	require.True(t, res.OK())
	reordered := []string{testAddresses[2], testAddresses[0], testAddresses[1]}
	addr2, _ := r.Route(context.Background(), param, reordered)
	assert.Equal(t, addr1, addr2)

	// 不同任务分散到多台执行器
	seen := make(map[string]struct{})
	for id := int64(1); id <= 50; id++ {
		addr, _ := r.Route(context.Background(), remoting.TriggerParam{JobID: id}, testAddresses)
		seen[addr] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestConsistentHashRouterAddAddress(t *testing.T) {
	r := consistentHashRouter{}
	grown := append(append([]string(nil), testAddresses...), "10.0.0.4:9999")
	const keys = 2000

	moved := 0
	for id := int64(1); id <= keys; id++ {
		before, _ := r.Route(context.Background(), remoting.TriggerParam{JobID: id}, testAddresses)
		after, _ := r.Route(context.Background(), remoting.TriggerParam{JobID: id}, grown)
		if before != after {
			moved++
			// 只会迁移到新加入的地址
			assert.Equal(t, grown[len(grown)-1], after, "job %d", id)
		}
	}
	// 期望迁移约 1/N 的任务
	ratio := float64(moved) / keys
	assert.InDelta(t, 1.0/float64(len(grown)), ratio, 0.1)
}

func TestFailoverRouter(t *testing.T) {
	clients := newFakeClients()
	clients.executor(testAddresses[0]).beatRes = remoting.Fail("down")
	r := &failoverRouter{clients: clients}

	addr, res := r.Route(context.Background(), remoting.TriggerParam{JobID: 1}, testAddresses)
	assert.Equal(t, testAddresses[1], addr)
	assert.True(t, res.OK())
	assert.Contains(t, res.Msg, "Beat check: "+testAddresses[0]+", code: 500, msg: down")
	assert.Contains(t, res.Msg, "Beat check: "+testAddresses[1]+", code: 200")

	for _, a := range testAddresses {
		clients.executor(a).beatRes = remoting.Fail("down")
	}
	addr, res = r.Route(context.Background(), remoting.TriggerParam{JobID: 1}, testAddresses)
	assert.Empty(t, addr)
	assert.False(t, res.OK())
}

func TestBusyoverRouter(t *testing.T) {
	clients := newFakeClients()
	clients.executor(testAddresses[0]).idleRes = remoting.Fail("job thread is running or has trigger queue.")
	clients.executor(testAddresses[1]).idleRes = remoting.Fail("job thread is running or has trigger queue.")
	r := &busyoverRouter{clients: clients}

	addr, res := r.Route(context.Background(), remoting.TriggerParam{JobID: 1}, testAddresses)
	assert.Equal(t, testAddresses[2], addr)
	assert.True(t, res.OK())
	assert.Contains(t, res.Msg, "Idle check: "+testAddresses[0])
}
