package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	MsgHandlerNotFound = "job handler [%s] not found."
	MsgChangeHandler   = "change jobhandler, and terminate the old job thread."
	MsgCoverEarly      = "block strategy effect：Cover Early"
	MsgDiscardLater    = "block strategy effect：Discard Later"
	MsgKillJob         = "scheduling center kill job."
	MsgAlreadyKilled   = "job thread already killed."
	MsgBusy            = "job thread is running or has trigger queue."
	MsgDestroy         = "web container destroy and kill the job."
	MsgKillTimeout     = "job thread not stopped in time."

	// defaultKillWait Kill等待任务线程退出的上限
	defaultKillWait = 10 * time.Second
)

var (
	ErrExecutorStarted = errors.New("executor already started")
	ErrHandlerExists   = errors.New("job handler already registered")
	ErrInvalidHandler  = errors.New("invalid job handler")
)

type Options func(e *Executor)

func WithLogger(l logger.Logger) Options {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithAdminAddresses 调度中心地址，按顺序尝试
func WithAdminAddresses(addresses ...string) Options {
	return func(e *Executor) {
		for _, addr := range addresses {
			if addr = strings.TrimSpace(addr); addr != "" {
				e.adminAddresses = append(e.adminAddresses, addr)
			}
		}
	}
}

// WithAdmins 直接指定调度中心客户端
func WithAdmins(admins ...remoting.AdminBiz) Options {
	return func(e *Executor) {
		e.admins = append(e.admins, admins...)
	}
}

func WithAccessToken(token string) Options {
	return func(e *Executor) {
		e.accessToken = token
	}
}

func WithAppName(name string) Options {
	return func(e *Executor) {
		e.appName = name
	}
}

// WithAddress 注册到调度中心的地址，为空时由IP和端口生成
func WithAddress(address string) Options {
	return func(e *Executor) {
		e.address = address
	}
}

func WithIP(ip string) Options {
	return func(e *Executor) {
		e.ip = ip
	}
}

func WithPort(port int) Options {
	return func(e *Executor) {
		e.port = port
	}
}

func WithLogPath(path string) Options {
	return func(e *Executor) {
		e.logPath = path
	}
}

// WithLogRetentionDays 日志文件保留天数，小于3时不清理
func WithLogRetentionDays(days int) Options {
	return func(e *Executor) {
		e.retentionDays = days
	}
}

func WithLocation(loc *time.Location) Options {
	return func(e *Executor) {
		e.loc = loc
	}
}

// Executor 执行器运行时：处理器注册表、任务线程、回调、注册和日志
type Executor struct {
	appName        string
	address        string
	ip             string
	port           int
	accessToken    string
	logPath        string
	retentionDays  int
	loc            *time.Location
	logger         logger.Logger
	adminAddresses []string
	admins         []remoting.AdminBiz

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu           sync.Mutex
	threads      map[int64]*jobThread
	threadCtx    context.Context
	threadCancel context.CancelFunc
	pollInterval time.Duration
	idleLimit    int
	killWait     time.Duration

	logs      *LogStore
	callbacks *callbackChannel
	handler   http.Handler

	lifeMu   sync.Mutex
	started  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	cbCancel context.CancelFunc
	cbGroup  *errgroup.Group
	server   *http.Server
	listener net.Listener
}

var _ remoting.ExecutorBiz = (*Executor)(nil)

func New(opts ...Options) (*Executor, error) {
	e := &Executor{
		logPath:      filepath.Join(os.TempDir(), "job_dispatcher", "jobhandler"),
		loc:          time.Local,
		logger:       logger.NewNopLogger(),
		handlers:     make(map[string]Handler),
		threads:      make(map[int64]*jobThread),
		pollInterval: defaultPollInterval,
		idleLimit:    defaultIdleLimit,
		killWait:     defaultKillWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, addr := range e.adminAddresses {
		e.admins = append(e.admins, remoting.NewAdminClient(addr, e.accessToken))
	}

	logs, err := NewLogStore(e.logPath, e.loc, e.logger)
	if err != nil {
		return nil, err
	}
	e.logs = logs
	e.callbacks = newCallbackChannel(e.admins, logs, e.logger.With(logger.Field{Key: "component", Val: "callback"}))
	e.threadCtx, e.threadCancel = context.WithCancel(context.Background())
	e.handler = remoting.NewExecutorHandler(e, e.accessToken, e.logger)
	return e, nil
}

// RegisterHandler 注册处理器，名称即任务配置中的handler
func (e *Executor) RegisterHandler(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" || h == nil {
		return ErrInvalidHandler
	}
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	if _, ok := e.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, name)
	}
	e.handlers[name] = h
	e.logger.Info("job handler registered", logger.Field{Key: "name", Val: name})
	return nil
}

func (e *Executor) RegisterFunc(name string, fn func(ctx context.Context, jc *JobContext) error) error {
	return e.RegisterHandler(name, HandlerFunc(fn))
}

func (e *Executor) loadHandler(name string) (Handler, bool) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	h, ok := e.handlers[name]
	return h, ok
}

// Handler 执行器RPC的http.Handler
func (e *Executor) Handler() http.Handler {
	return e.handler
}

// Address 注册到调度中心的地址，Start之后有效
func (e *Executor) Address() string {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.address
}

func (e *Executor) Beat(_ context.Context) remoting.ReturnT {
	return remoting.Success()
}

func (e *Executor) IdleBeat(_ context.Context, p remoting.IdleBeatParam) remoting.ReturnT {
	e.mu.Lock()
	t := e.threads[p.JobID]
	e.mu.Unlock()
	if t != nil && t.busy() {
		return remoting.Fail(MsgBusy)
	}
	return remoting.Success()
}

func (e *Executor) Run(_ context.Context, p remoting.TriggerParam) remoting.ReturnT {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.threads[p.JobID]
	removeReason := ""
	if t != nil && t.handlerName != p.ExecutorHandler {
		removeReason = MsgChangeHandler
		t = nil
	}
	var h Handler
	if t == nil {
		var ok bool
		if h, ok = e.loadHandler(p.ExecutorHandler); !ok {
			return remoting.Fail(fmt.Sprintf(MsgHandlerNotFound, p.ExecutorHandler))
		}
	}

	if t != nil {
		switch _const.BlockStrategy(p.ExecutorBlockStrategy).Canonical() {
		case _const.BlockDiscardLatest:
			if t.busy() {
				return remoting.Fail(MsgDiscardLater)
			}
		case _const.BlockCoverEarliest:
			if t.busy() {
				removeReason = MsgCoverEarly
				h = t.handler
				t = nil
			}
		}
	}

	if t == nil {
		t = e.registerThread(p.JobID, p.ExecutorHandler, h, removeReason)
	}
	return t.push(p)
}

// registerThread 创建并启动新的任务线程，替换掉的旧线程不等待其退出，调用方持有e.mu
func (e *Executor) registerThread(jobID int64, name string, h Handler, removeReason string) *jobThread {
	t := newJobThread(jobID, name, h, e, e.logs, e.logger)
	t.pollInterval, t.idleLimit = e.pollInterval, e.idleLimit
	t.start(e.threadCtx)
	old := e.threads[jobID]
	e.threads[jobID] = t
	if old != nil {
		old.stop(removeReason, false)
	}
	e.logger.Info("job thread registered",
		logger.Field{Key: "jobId", Val: jobID},
		logger.Field{Key: "handler", Val: name})
	return t
}

// Kill 终止任务线程，等待执行中的处理器返回。
// 请求取消不影响等待，处理器在killWait内仍未返回则返回失败
func (e *Executor) Kill(ctx context.Context, p remoting.KillParam) remoting.ReturnT {
	e.mu.Lock()
	t := e.threads[p.JobID]
	delete(e.threads, p.JobID)
	e.mu.Unlock()
	if t == nil {
		return remoting.SuccessMsg(MsgAlreadyKilled)
	}
	t.stop(MsgKillJob, true)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.killWait)
	defer cancel()
	select {
	case <-t.done:
		return remoting.Success()
	case <-waitCtx.Done():
		e.logger.Warn("job thread not stopped after kill",
			logger.Field{Key: "jobId", Val: p.JobID},
			logger.Field{Key: "wait", Val: e.killWait})
		return remoting.Fail(MsgKillTimeout)
	}
}

func (e *Executor) Log(_ context.Context, p remoting.LogParam) remoting.LogReturnT {
	res := e.logs.ReadLog(e.logs.FileName(p.LogDateTime, p.LogID), p.FromLineNum)
	return remoting.LogReturnT{Code: _const.CodeSuccess, Content: &res}
}

func (e *Executor) removeIdleThread(t *jobThread) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// 移除前再确认一次，避免丢掉刚入队的调度
	if e.threads[t.jobID] != t || t.busy() {
		return
	}
	delete(e.threads, t.jobID)
	t.stop(MsgIdleTimesOver, false)
}

func (e *Executor) pushCallback(p remoting.HandleCallbackParam) {
	e.callbacks.push(p)
}

// Start 绑定端口，启动RPC服务、回调、注册和日志清理
func (e *Executor) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started {
		return ErrExecutorStarted
	}

	var cleaner *cron.Cron
	if e.retentionDays >= minRetention {
		cleaner = cron.New(cron.WithParser(_const.Parser), cron.WithLocation(e.loc))
		if _, err := cleaner.AddFunc(_const.DefaultCleanSpec, e.cleanLogs); err != nil {
			return fmt.Errorf("schedule job log clean: %w", err)
		}
	}

	ln, port, err := listenAvailable("", e.port)
	if err != nil {
		return err
	}
	e.listener, e.port = ln, port
	if e.address == "" {
		ip := e.ip
		if ip == "" {
			ip = localIP()
		}
		e.address = "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + "/"
	}
	e.server = &http.Server{Handler: e.handler, ReadHeaderTimeout: 10 * time.Second}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	cbCtx, cbCancel := context.WithCancel(context.WithoutCancel(ctx))
	cbGroup := &errgroup.Group{}
	e.cancel, e.group, e.cbCancel, e.cbGroup = cancel, g, cbCancel, cbGroup
	e.started = true

	g.Go(func() error {
		e.logger.Info("executor rpc server listening", logger.Field{Key: "port", Val: port})
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	cbGroup.Go(func() error { e.callbacks.run(cbCtx); return nil })
	cbGroup.Go(func() error { e.callbacks.retryLoop(cbCtx); return nil })

	if len(e.admins) > 0 && e.appName != "" {
		reg := newRegistryThread(e.admins, e.appName, e.address, e.logger.With(logger.Field{Key: "component", Val: "registry"}))
		g.Go(func() error { reg.run(gctx); return nil })
	}

	if cleaner != nil {
		cleaner.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-cleaner.Stop().Done()
			return nil
		})
	}
	e.logger.Info("executor started",
		logger.Field{Key: "appName", Val: e.appName},
		logger.Field{Key: "address", Val: e.address})
	return nil
}

func (e *Executor) cleanLogs() {
	n, err := e.logs.Clean(e.retentionDays, time.Now())
	if err != nil {
		e.logger.Error("failed to clean job logs", logger.Error(err))
		return
	}
	e.logger.Info("job logs cleaned", logger.Field{Key: "dirs", Val: n})
}

// Stop 摘除注册、停止RPC服务和所有任务线程，最后回调剩余的执行结果
func (e *Executor) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false

	var errs []error
	e.cancel()
	errs = append(errs, e.server.Shutdown(ctx), e.group.Wait())

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
		case <-ctx.Done():
		}
	}
	e.mu.Lock()
	e.threadCancel()
	e.threadCtx, e.threadCancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.cbCancel()
	errs = append(errs, e.cbGroup.Wait())
	for _, admin := range e.admins {
		if c, ok := admin.(interface{ Close() }); ok {
			c.Close()
		}
	}
	e.logger.Info("executor stopped")
	return errors.Join(errs...)
}
