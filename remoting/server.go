package remoting

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
)

const (
	MsgTokenWrong = "The access token is wrong."
)

type endpoint func(ctx context.Context, body []byte) (any, error)

func bind[P any](fn func(ctx context.Context, p P) any) endpoint {
	return func(ctx context.Context, body []byte) (any, error) {
		var p P
		if len(body) > 0 && string(body) != "null" {
			if err := json.Unmarshal(body, &p); err != nil {
				return nil, err
			}
		}
		return fn(ctx, p), nil
	}
}

// Server 基于POST+JSON的RPC服务端，所有响应均为HTTP 200，结果体现在ReturnT中
type Server struct {
	token  string
	logger logger.Logger
	routes map[string]endpoint
}

func newServer(token string, l logger.Logger) *Server {
	return &Server{token: token, logger: l, routes: make(map[string]endpoint)}
}

// NewExecutorHandler 执行器侧：beat、idleBeat、run、kill、log
func NewExecutorHandler(biz ExecutorBiz, token string, l logger.Logger) *Server {
	s := newServer(token, l)
	s.routes[PathBeat] = func(ctx context.Context, _ []byte) (any, error) {
		return biz.Beat(ctx), nil
	}
	s.routes[PathIdleBeat] = bind(func(ctx context.Context, p IdleBeatParam) any { return biz.IdleBeat(ctx, p) })
	s.routes[PathRun] = bind(func(ctx context.Context, p TriggerParam) any { return biz.Run(ctx, p) })
	s.routes[PathKill] = bind(func(ctx context.Context, p KillParam) any { return biz.Kill(ctx, p) })
	s.routes[PathLog] = bind(func(ctx context.Context, p LogParam) any { return biz.Log(ctx, p) })
	return s
}

// NewAdminHandler 调度中心侧：callback、registry、registryRemove
func NewAdminHandler(biz AdminBiz, token string, l logger.Logger) *Server {
	s := newServer(token, l)
	s.routes[PathCallback] = bind(func(ctx context.Context, p []HandleCallbackParam) any { return biz.Callback(ctx, p) })
	s.routes[PathRegistry] = bind(func(ctx context.Context, p RegistryParam) any { return biz.Registry(ctx, p) })
	s.routes[PathRegistryRemove] = bind(func(ctx context.Context, p RegistryParam) any { return biz.RegistryRemove(ctx, p) })
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.write(w, s.dispatch(r))
}

func (s *Server) dispatch(r *http.Request) any {
	if r.Method != http.MethodPost {
		return Fail("invalid request, HttpMethod not support.")
	}
	ep, ok := s.routes[r.URL.Path]
	if !ok {
		return Fail("invalid request, uri-mapping(" + r.URL.Path + ") not found.")
	}
	if s.token != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(_const.AccessTokenHeader)), []byte(s.token)) != 1 {
		return Fail(MsgTokenWrong)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return Fail("request read error: " + err.Error())
	}
	res, err := ep(r.Context(), body)
	if err != nil {
		s.logger.Warn("failed to decode rpc request",
			logger.Field{Key: "uri", Val: r.URL.Path}, logger.Error(err))
		return Fail("request parse error: " + err.Error())
	}
	return res
}

func (s *Server) write(w http.ResponseWriter, res any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Error("failed to write rpc response", logger.Error(err))
	}
}
