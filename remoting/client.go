package remoting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker/v2"
)

var ErrBadStatus = errors.New("remoting fail")

const (
	// DefaultTimeout RPC读超时
	DefaultTimeout = 3 * time.Second
	connectTimeout = 3 * time.Second
	maxBodyBytes   = 10 << 20
)

type Option func(c *httpClient)

// WithTimeout 设置读超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *httpClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithHTTPClient 替换底层http客户端
func WithHTTPClient(client *http.Client) Option {
	return func(c *httpClient) {
		c.client = client
	}
}

type httpClient struct {
	address string
	token   string
	client  *http.Client
}

func newHTTPClient(address, token string, opts ...Option) *httpClient {
	c := &httpClient{
		address: strings.TrimSuffix(address, "/"),
		token:   token,
		client: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) url(path string) string {
	return c.address + path
}

func (c *httpClient) post(ctx context.Context, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json;charset=UTF-8")
	if c.token != "" {
		httpReq.Header.Set(_const.AccessTokenHeader, c.token)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return fmt.Errorf("%w, StatusCode(%d) invalid. for url : %s", ErrBadStatus, res.StatusCode, c.url(path))
	}
	return json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes)).Decode(resp)
}

func (c *httpClient) failReturn(path string, err error) ReturnT {
	if errors.Is(err, ErrBadStatus) {
		return Fail(err.Error())
	}
	return Fail(fmt.Sprintf("remoting error(%s), for url : %s", err.Error(), c.url(path)))
}

// ExecutorClient 调度中心访问单个执行器的客户端，连续传输失败后熔断
type ExecutorClient struct {
	http *httpClient
	cb   *gobreaker.CircuitBreaker[struct{}]
}

var _ ExecutorBiz = (*ExecutorClient)(nil)

// Close 释放空闲连接，进行中的请求不受影响
func (c *ExecutorClient) Close() {
	c.http.client.CloseIdleConnections()
}

func NewExecutorClient(address, token string, opts ...Option) *ExecutorClient {
	return &ExecutorClient{
		http: newHTTPClient(address, token, opts...),
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        address,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *ExecutorClient) Address() string {
	return c.http.address
}

func (c *ExecutorClient) call(ctx context.Context, path string, req, resp any) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.http.post(ctx, path, req, resp)
	})
	return err
}

func (c *ExecutorClient) do(ctx context.Context, path string, req any) ReturnT {
	var res ReturnT
	if err := c.call(ctx, path, req, &res); err != nil {
		return c.http.failReturn(path, err)
	}
	return res
}

func (c *ExecutorClient) Beat(ctx context.Context) ReturnT {
	return c.do(ctx, PathBeat, struct{}{})
}

func (c *ExecutorClient) IdleBeat(ctx context.Context, param IdleBeatParam) ReturnT {
	return c.do(ctx, PathIdleBeat, param)
}

func (c *ExecutorClient) Run(ctx context.Context, param TriggerParam) ReturnT {
	return c.do(ctx, PathRun, param)
}

func (c *ExecutorClient) Kill(ctx context.Context, param KillParam) ReturnT {
	return c.do(ctx, PathKill, param)
}

func (c *ExecutorClient) Log(ctx context.Context, param LogParam) LogReturnT {
	var res LogReturnT
	if err := c.call(ctx, PathLog, param, &res); err != nil {
		r := c.http.failReturn(PathLog, err)
		return LogReturnT{Code: r.Code, Msg: r.Msg}
	}
	return res
}

// ExecutorClientPool 按地址缓存执行器客户端
type ExecutorClientPool struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *ExecutorClient]
	token string
	opts  []Option
}

// NewExecutorClientPool 超出size时淘汰最久未用的客户端，并释放其空闲连接
func NewExecutorClientPool(size int, token string, opts ...Option) (*ExecutorClientPool, error) {
	cache, err := lru.NewWithEvict[string, *ExecutorClient](size, func(_ string, c *ExecutorClient) {
		c.Close()
	})
	if err != nil {
		return nil, err
	}
	return &ExecutorClientPool{cache: cache, token: token, opts: opts}, nil
}

func (p *ExecutorClientPool) Get(address string) ExecutorBiz {
	address = strings.TrimSpace(address)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cache.Get(address); ok {
		return c
	}
	c := NewExecutorClient(address, p.token, p.opts...)
	p.cache.Add(address, c)
	return c
}

// AdminClient 执行器访问调度中心的客户端
type AdminClient struct {
	http *httpClient
}

var _ AdminBiz = (*AdminClient)(nil)

func NewAdminClient(address, token string, opts ...Option) *AdminClient {
	return &AdminClient{http: newHTTPClient(address, token, opts...)}
}

func (c *AdminClient) Address() string {
	return c.http.address
}

// Close 释放空闲连接
func (c *AdminClient) Close() {
	c.http.client.CloseIdleConnections()
}

func (c *AdminClient) do(ctx context.Context, path string, req any) ReturnT {
	var res ReturnT
	if err := c.http.post(ctx, path, req, &res); err != nil {
		return c.http.failReturn(path, err)
	}
	return res
}

func (c *AdminClient) Callback(ctx context.Context, params []HandleCallbackParam) ReturnT {
	return c.do(ctx, PathCallback, params)
}

func (c *AdminClient) Registry(ctx context.Context, param RegistryParam) ReturnT {
	return c.do(ctx, PathRegistry, param)
}

func (c *AdminClient) RegistryRemove(ctx context.Context, param RegistryParam) ReturnT {
	return c.do(ctx, PathRegistryRemove, param)
}
