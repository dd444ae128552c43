package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/google/uuid"
)

const (
	callbackFilePrefix = "callback-"
	callbackFileSuffix = ".json"
	flushTimeout       = 5 * time.Second
)

// callbackChannel 执行结果先进入内存队列，由发送协程批量回调调度中心，
// 全部调度中心都失败时整批落盘，由重试协程定期重放
type callbackChannel struct {
	admins        []remoting.AdminBiz
	logs          *LogStore
	dir           string
	retryInterval time.Duration
	logger        logger.Logger

	mu      sync.Mutex
	pending []remoting.HandleCallbackParam
	notify  chan struct{}
}

func newCallbackChannel(admins []remoting.AdminBiz, logs *LogStore, l logger.Logger) *callbackChannel {
	return &callbackChannel{
		admins:        admins,
		logs:          logs,
		dir:           logs.CallbackDir(),
		retryInterval: _const.BeatInterval,
		logger:        l,
		notify:        make(chan struct{}, 1),
	}
}

func (c *callbackChannel) push(p remoting.HandleCallbackParam) {
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// drain 取出当前所有待回调的结果
func (c *callbackChannel) drain() []remoting.HandleCallbackParam {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.pending
	c.pending = nil
	return batch
}

// run 发送协程，ctx结束后做最后一次回调
func (c *callbackChannel) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if batch := c.drain(); len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
				c.send(flushCtx, batch)
				cancel()
			}
			c.logger.Info("callback sender stopped")
			return
		case <-c.notify:
			if batch := c.drain(); len(batch) > 0 {
				c.send(ctx, batch)
			}
		}
	}
}

// retryLoop 定期重放落盘的回调
func (c *callbackChannel) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.retryFailFiles(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to retry callback files", logger.Error(err))
			}
		}
	}
}

// send 依次尝试每个调度中心，有一个成功即结束
func (c *callbackChannel) send(ctx context.Context, batch []remoting.HandleCallbackParam) {
	for _, admin := range c.admins {
		res := admin.Callback(ctx, batch)
		if res.OK() {
			c.logResult(batch, "----------- callback finish")
			return
		}
		c.logger.Warn("callback fail", logger.Field{Key: "msg", Val: res.Msg})
	}
	c.logResult(batch, "----------- callback fail")
	if err := c.writeFailFile(batch); err != nil {
		c.logger.Error("failed to persist callback batch",
			logger.Field{Key: "size", Val: len(batch)}, logger.Error(err))
	}
}

func (c *callbackChannel) logResult(batch []remoting.HandleCallbackParam, msg string) {
	for _, p := range batch {
		c.logs.Append(c.logs.FileName(p.LogDateTime, p.LogID), msg)
	}
}

func (c *callbackChannel) writeFailFile(batch []remoting.HandleCallbackParam) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%d-%s%s", callbackFilePrefix, time.Now().UnixMilli(), uuid.NewString(), callbackFileSuffix)
	// 先写临时文件再改名，重试协程不会读到写了一半的文件
	tmp := filepath.Join(c.dir, "."+name)
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(c.dir, name))
}

// retryFailFiles 读取所有落盘的批次，删除后重新回调，失败时会重新落盘
func (c *callbackChannel) retryFailFiles(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, callbackFilePrefix) || !strings.HasSuffix(name, callbackFileSuffix) {
			continue
		}
		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("failed to read callback file", logger.Field{Key: "file", Val: name}, logger.Error(err))
			continue
		}
		if err = os.Remove(path); err != nil {
			return err
		}
		var batch []remoting.HandleCallbackParam
		if err = json.Unmarshal(data, &batch); err != nil {
			c.logger.Warn("drop broken callback file", logger.Field{Key: "file", Val: name}, logger.Error(err))
			continue
		}
		if len(batch) > 0 {
			c.send(ctx, batch)
		}
	}
	return nil
}
