package job_dispatcher

import (
	"context"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// routeStateTTL 路由统计按天重置
	routeStateTTL = 24 * time.Hour
	// routeCountLimit 计数超过该值时重新随机
	routeCountLimit = 1000000
	virtualNodes    = 100
	lruCapacity     = 1 << 16
)

type nowFunc func() time.Time

// roundRouter 轮询，每个任务的起始位置随机
type roundRouter struct {
	mu       sync.Mutex
	now      nowFunc
	counts   map[int64]int
	expireAt time.Time
}

func newRoundRouter(now nowFunc) *roundRouter {
	return &roundRouter{now: now, counts: make(map[int64]int)}
}

func (r *roundRouter) next(jobID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now := r.now(); now.After(r.expireAt) {
		r.counts = make(map[int64]int)
		r.expireAt = now.Add(routeStateTTL)
	}
	count, ok := r.counts[jobID]
	if !ok || count > routeCountLimit {
		count = rand.IntN(100)
	} else {
		count++
	}
	r.counts[jobID] = count
	return count
}

func (r *roundRouter) Route(_ context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	return addresses[r.next(param.JobID)%len(addresses)], remoting.Success()
}

// lfuRouter 最不经常使用
type lfuRouter struct {
	mu       sync.Mutex
	now      nowFunc
	counts   map[int64]map[string]int
	expireAt time.Time
}

func newLFURouter(now nowFunc) *lfuRouter {
	return &lfuRouter{now: now, counts: make(map[int64]map[string]int)}
}

func (r *lfuRouter) Route(_ context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if now := r.now(); now.After(r.expireAt) {
		r.counts = make(map[int64]map[string]int)
		r.expireAt = now.Add(routeStateTTL)
	}

	items, ok := r.counts[param.JobID]
	if !ok {
		items = make(map[string]int, len(addresses))
		r.counts[param.JobID] = items
	}
	alive := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		alive[addr] = struct{}{}
		// 新地址随机初始化，避免首次全部打到同一台
		if c, ok := items[addr]; !ok || c > routeCountLimit {
			items[addr] = rand.IntN(len(addresses))
		}
	}
	for addr := range items {
		if _, ok := alive[addr]; !ok {
			delete(items, addr)
		}
	}

	target := addresses[0]
	for _, addr := range addresses[1:] {
		if items[addr] < items[target] {
			target = addr
		}
	}
	items[target]++
	return target, remoting.Success()
}

// lruRouter 最近最久未使用
type lruRouter struct {
	mu       sync.Mutex
	now      nowFunc
	orders   map[int64]*lru.Cache[string, struct{}]
	expireAt time.Time
}

func newLRURouter(now nowFunc) *lruRouter {
	return &lruRouter{now: now, orders: make(map[int64]*lru.Cache[string, struct{}])}
}

func (r *lruRouter) Route(_ context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if now := r.now(); now.After(r.expireAt) {
		r.orders = make(map[int64]*lru.Cache[string, struct{}])
		r.expireAt = now.Add(routeStateTTL)
	}

	order, ok := r.orders[param.JobID]
	if !ok {
		var err error
		if order, err = lru.New[string, struct{}](lruCapacity); err != nil {
			return "", remoting.Fail(err.Error())
		}
		r.orders[param.JobID] = order
	}
	alive := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		alive[addr] = struct{}{}
		if !order.Contains(addr) {
			order.Add(addr, struct{}{})
		}
	}
	for _, addr := range order.Keys() {
		if _, ok := alive[addr]; !ok {
			order.Remove(addr)
		}
	}

	eldest, _, ok := order.GetOldest()
	if !ok {
		return "", remoting.Fail(msgAddressEmpty)
	}
	order.Get(eldest)
	return eldest, remoting.Success()
}

// consistentHashRouter 一致性哈希，每个地址100个虚拟节点
type consistentHashRouter struct{}

func (consistentHashRouter) Route(_ context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	ring := make(map[uint64]string, len(addresses)*virtualNodes)
	for _, addr := range addresses {
		for i := 0; i < virtualNodes; i++ {
			ring[xxhash.Sum64String("SHARD-"+addr+"-NODE-"+strconv.Itoa(i))] = addr
		}
	}
	keys := make([]uint64, 0, len(ring))
	for k := range ring {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	jobHash := xxhash.Sum64String(strconv.FormatInt(param.JobID, 10))
	idx := sort.Search(len(keys), func(i int) bool { return keys[i] >= jobHash })
	if idx == len(keys) {
		idx = 0
	}
	return ring[keys[idx]], remoting.Success()
}
