package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callbackFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), callbackFilePrefix) {
			names = append(names, e.Name())
		}
	}
	return names
}

func testBatch() []remoting.HandleCallbackParam {
	now := time.Now().UnixMilli()
	return []remoting.HandleCallbackParam{
		{LogID: 1, LogDateTime: now, HandleCode: 200, HandleMsg: "ok"},
		{LogID: 2, LogDateTime: now, HandleCode: 500, HandleMsg: "fail"},
	}
}

func TestCallbackChannel_SendFailover(t *testing.T) {
	logs := newTestLogStore(t)
	down, up := &fakeAdmin{fail: true}, &fakeAdmin{}
	c := newCallbackChannel([]remoting.AdminBiz{down, up}, logs, logger.NewNopLogger())

	batch := testBatch()
	c.send(context.Background(), batch)
	assert.Equal(t, batch, up.Callbacks())
	assert.Empty(t, callbackFiles(t, c.dir))

	res := logs.ReadLog(logs.FileName(batch[0].LogDateTime, 1), 1)
	assert.Contains(t, res.LogContent, "callback finish")
}

func TestCallbackChannel_PersistAndRetry(t *testing.T) {
	logs := newTestLogStore(t)
	admin := &fakeAdmin{fail: true}
	c := newCallbackChannel([]remoting.AdminBiz{admin}, logs, logger.NewNopLogger())
	ctx := context.Background()

	batch := testBatch()
	c.send(ctx, batch)
	files := callbackFiles(t, c.dir)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0], callbackFileSuffix))
	res := logs.ReadLog(logs.FileName(batch[0].LogDateTime, 2), 1)
	assert.Contains(t, res.LogContent, "callback fail")

	// 仍然失败时重新落盘
	require.NoError(t, c.retryFailFiles(ctx))
	files = callbackFiles(t, c.dir)
	require.Len(t, files, 1)

	admin.setFail(false)
	require.NoError(t, c.retryFailFiles(ctx))
	assert.Empty(t, callbackFiles(t, c.dir))
	assert.Equal(t, batch, admin.Callbacks())
}

func TestCallbackChannel_DropBrokenFile(t *testing.T) {
	logs := newTestLogStore(t)
	admin := &fakeAdmin{}
	c := newCallbackChannel([]remoting.AdminBiz{admin}, logs, logger.NewNopLogger())
	require.NoError(t, os.MkdirAll(c.dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, "callback-1-broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, "other.txt"), []byte("x"), 0o644))

	require.NoError(t, c.retryFailFiles(context.Background()))
	assert.Empty(t, callbackFiles(t, c.dir))
	assert.FileExists(t, filepath.Join(c.dir, "other.txt"))
	assert.Empty(t, admin.Callbacks())
}

func TestCallbackChannel_RetryMissingDir(t *testing.T) {
	c := newCallbackChannel(nil, newTestLogStore(t), logger.NewNopLogger())
	assert.NoError(t, c.retryFailFiles(context.Background()))
}

func TestCallbackChannel_Run(t *testing.T) {
	logs := newTestLogStore(t)
	admin := &fakeAdmin{}
	c := newCallbackChannel([]remoting.AdminBiz{admin}, logs, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.run(ctx)
	}()

	batch := testBatch()
	c.push(batch[0])
	require.Eventually(t, func() bool { return len(admin.Callbacks()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestCallbackChannel_FinalFlush(t *testing.T) {
	logs := newTestLogStore(t)
	admin := &fakeAdmin{}
	c := newCallbackChannel([]remoting.AdminBiz{admin}, logs, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := testBatch()
	c.push(batch[0])
	c.push(batch[1])
	c.run(ctx)
	assert.Equal(t, batch, admin.Callbacks())
}

func TestCallbackChannel_RetryLoop(t *testing.T) {
	logs := newTestLogStore(t)
	admin := &fakeAdmin{fail: true}
	c := newCallbackChannel([]remoting.AdminBiz{admin}, logs, logger.NewNopLogger())
	c.retryInterval = 10 * time.Millisecond
	c.send(context.Background(), testBatch())
	require.Len(t, callbackFiles(t, c.dir), 1)
	admin.setFail(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.retryLoop(ctx)
	}()
	require.Eventually(t, func() bool { return len(admin.Callbacks()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, callbackFiles(t, c.dir))
}
