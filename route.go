package job_dispatcher

import (
	"context"
	"math/rand/v2"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/remoting"
)

const msgAddressEmpty = "address list is empty"

// ExecutorClients 按地址获取执行器客户端
type ExecutorClients interface {
	Get(address string) remoting.ExecutorBiz
}

// Router 从候选地址中选出本次调度的执行器，失败时address为空
type Router interface {
	Route(ctx context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT)
}

type RouterFunc func(ctx context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT)

func (f RouterFunc) Route(ctx context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	return f(ctx, param, addresses)
}

func routeFirst(_ context.Context, _ remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	return addresses[0], remoting.Success()
}

func routeLast(_ context.Context, _ remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	return addresses[len(addresses)-1], remoting.Success()
}

func routeRandom(_ context.Context, _ remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	return addresses[rand.IntN(len(addresses))], remoting.Success()
}

// routerTable 路由策略到实现的映射，有状态的路由按任务隔离状态
type routerTable map[_const.RouteStrategy]Router

func newRouterTable(clients ExecutorClients, now nowFunc) routerTable {
	return routerTable{
		_const.RouteFirst:          RouterFunc(routeFirst),
		_const.RouteLast:           RouterFunc(routeLast),
		_const.RouteRandom:         RouterFunc(routeRandom),
		_const.RouteRound:          newRoundRouter(now),
		_const.RouteConsistentHash: consistentHashRouter{},
		_const.RouteLeastFrequent:  newLFURouter(now),
		_const.RouteLeastRecent:    newLRURouter(now),
		_const.RouteFailover:       &failoverRouter{clients: clients},
		_const.RouteBusyover:       &busyoverRouter{clients: clients},
	}
}

func (t routerTable) Route(ctx context.Context, strategy _const.RouteStrategy,
	param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	r, ok := t[strategy]
	if !ok {
		// 未知策略回退为FIRST
		r = RouterFunc(routeFirst)
	}
	return r.Route(ctx, param, addresses)
}
