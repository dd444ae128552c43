package job_dispatcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/TimeWtr/job_dispatcher/cronclock"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultFastMax = 200
	DefaultSlowMax = 100
)

var ErrAdminStarted = errors.New("admin already started")

type Options func(a *Admin)

func WithLogger(l logger.Logger) Options {
	return func(a *Admin) {
		a.logger = l
	}
}

// WithNow 替换时钟，测试使用
func WithNow(now func() time.Time) Options {
	return func(a *Admin) {
		a.now = now
	}
}

func WithLocation(loc *time.Location) Options {
	return func(a *Admin) {
		a.loc = loc
	}
}

// WithPoolSize 快慢触发池的最大协程数，分别不低于200和100
func WithPoolSize(fastMax, slowMax int) Options {
	return func(a *Admin) {
		a.fastMax = max(fastMax, DefaultFastMax)
		a.slowMax = max(slowMax, DefaultSlowMax)
	}
}

func WithAccessToken(token string) Options {
	return func(a *Admin) {
		a.accessToken = token
	}
}

// WithAdminAddress 调度中心对外地址，写入触发信息
func WithAdminAddress(address string) Options {
	return func(a *Admin) {
		a.adminAddress = address
	}
}

// WithListenAddr 开启RPC服务的监听地址，为空则不监听
func WithListenAddr(addr string) Options {
	return func(a *Admin) {
		a.listenAddr = addr
	}
}

func WithLogRetention(days int, cleanSpec string) Options {
	return func(a *Admin) {
		a.retentionDays = days
		a.cleanSpec = cleanSpec
	}
}

func WithAlarm(alarms ...JobAlarm) Options {
	return func(a *Admin) {
		a.alarms = append(a.alarms, alarms...)
	}
}

func WithMeterProvider(mp metric.MeterProvider) Options {
	return func(a *Admin) {
		a.meterProvider = mp
	}
}

func WithExecutorTimeout(timeout time.Duration) Options {
	return func(a *Admin) {
		a.executorTimeout = timeout
	}
}

// WithExecutorClients 替换执行器客户端，测试使用
func WithExecutorClients(clients ExecutorClients) Options {
	return func(a *Admin) {
		a.clients = clients
	}
}

// Admin 调度中心运行时，持有所有调度线程和监控线程
type Admin struct {
	store           repository.JobStore
	logger          logger.Logger
	now             func() time.Time
	loc             *time.Location
	fastMax         int
	slowMax         int
	accessToken     string
	adminAddress    string
	listenAddr      string
	retentionDays   int
	cleanSpec       string
	alarms          []JobAlarm
	meterProvider   metric.MeterProvider
	executorTimeout time.Duration
	clients         ExecutorClients

	trigger     *JobTrigger
	triggerPool *TriggerPool
	scheduler   *Scheduler
	completer   *Completer
	registry    *RegistryMonitor
	failMonitor *FailMonitor
	lostMonitor *LostMonitor
	reporter    *LogReporter
	jobs        *JobService
	handler     http.Handler

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	server   *http.Server
	listener net.Listener
}

func NewAdmin(store repository.JobStore, opts ...Options) (*Admin, error) {
	a := &Admin{
		store:   store,
		logger:  logger.NewNopLogger(),
		now:     time.Now,
		loc:     time.Local,
		fastMax: DefaultFastMax,
		slowMax: DefaultSlowMax,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.clients == nil {
		pool, err := remoting.NewExecutorClientPool(1024, a.accessToken,
			remoting.WithTimeout(a.executorTimeout))
		if err != nil {
			return nil, err
		}
		a.clients = pool
	}
	metrics, err := newTriggerMetrics(a.meterProvider)
	if err != nil {
		return nil, err
	}

	now := nowFunc(a.now)
	clock := cronclock.NewClock(a.loc)
	a.trigger = NewJobTrigger(store, a.clients, a.adminAddress, a.logger.With(logger.Field{Key: "component", Val: "trigger"}), now)
	a.triggerPool = NewTriggerPool(a.trigger, a.fastMax, a.slowMax, metrics, a.logger, now)
	a.scheduler = NewScheduler(store, clock, a.triggerPool, (a.fastMax+a.slowMax)*20,
		a.logger.With(logger.Field{Key: "component", Val: "scheduler"}), now)
	a.completer = NewCompleter(store, a.triggerPool, a.logger, now)
	a.registry = NewRegistryMonitor(store, a.logger.With(logger.Field{Key: "component", Val: "registry"}), now)
	a.failMonitor = NewFailMonitor(store, a.triggerPool, CompositeAlarm(a.alarms), a.logger.With(logger.Field{Key: "component", Val: "fail-monitor"}))
	a.lostMonitor = NewLostMonitor(store, a.completer, a.logger.With(logger.Field{Key: "component", Val: "lost-monitor"}), now)
	a.reporter = NewLogReporter(store, a.retentionDays, a.cleanSpec, a.loc, a.logger, now)
	a.jobs = NewJobService(store, clock, a.triggerPool, a.clients, a.completer, now)
	a.handler = remoting.NewAdminHandler(&adminBiz{completer: a.completer, registry: a.registry}, a.accessToken, a.logger)
	return a, nil
}

// Jobs 任务管理入口
func (a *Admin) Jobs() *JobService {
	return a.jobs
}

// Handler 调度中心RPC的http.Handler
func (a *Admin) Handler() http.Handler {
	return a.handler
}

func (a *Admin) Scheduler() *Scheduler {
	return a.scheduler
}

// Start 启动注册监控、失败监控、结果丢失监控、日志报表和调度线程
func (a *Admin) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAdminStarted
	}

	if a.listenAddr != "" {
		ln, err := net.Listen("tcp", a.listenAddr)
		if err != nil {
			return err
		}
		a.listener = ln
		a.server = &http.Server{Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	}

	// 运行期只受Stop控制，ctx取消后仍要由Stop排空时间轮和触发池
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	a.cancel, a.group = cancel, g
	a.started = true

	g.Go(func() error { a.registry.Run(gctx); return nil })
	g.Go(func() error { a.failMonitor.Run(gctx); return nil })
	g.Go(func() error { a.lostMonitor.Run(gctx); return nil })
	g.Go(func() error { return a.reporter.Run(gctx) })
	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("admin rpc server listening", logger.Field{Key: "addr", Val: a.listener.Addr().String()})
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if err := a.scheduler.Start(gctx); err != nil {
		return err
	}
	a.logger.Info("admin started")
	return nil
}

// Stop 按启动的逆序停止，ctx限制总的等待时间
func (a *Admin) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	// 调度线程先把时间轮中的任务提交到触发池
	a.scheduler.Stop(ctx)
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	a.cancel()
	errs = append(errs, a.group.Wait())
	// 监控线程和回调都可能提交子任务或重试，最后再排空触发池
	errs = append(errs,
		a.completer.Stop(ctx),
		a.triggerPool.Stop(ctx),
		a.registry.Stop(ctx),
	)
	a.logger.Info("admin stopped")
	return errors.Join(errs...)
}

// Addr 实际监听地址，未监听时为空
func (a *Admin) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}
