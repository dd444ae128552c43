package job_dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/TimeWtr/job_dispatcher/remoting"
)

// failoverRouter 按顺序心跳检测，选第一个存活的执行器
type failoverRouter struct {
	clients ExecutorClients
}

func (r *failoverRouter) Route(ctx context.Context, _ remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	var sb strings.Builder
	for _, addr := range addresses {
		res := r.clients.Get(addr).Beat(ctx)
		writeCheck(&sb, "Beat check", addr, res)
		if res.OK() {
			return addr, remoting.SuccessMsg(sb.String())
		}
	}
	return "", remoting.Fail(sb.String())
}

// busyoverRouter 按顺序忙碌检测，选第一个空闲的执行器
type busyoverRouter struct {
	clients ExecutorClients
}

func (r *busyoverRouter) Route(ctx context.Context, param remoting.TriggerParam, addresses []string) (string, remoting.ReturnT) {
	if len(addresses) == 0 {
		return "", remoting.Fail(msgAddressEmpty)
	}
	var sb strings.Builder
	for _, addr := range addresses {
		res := r.clients.Get(addr).IdleBeat(ctx, remoting.IdleBeatParam{JobID: param.JobID})
		writeCheck(&sb, "Idle check", addr, res)
		if res.OK() {
			return addr, remoting.SuccessMsg(sb.String())
		}
	}
	return "", remoting.Fail(sb.String())
}

func writeCheck(sb *strings.Builder, title, addr string, res remoting.ReturnT) {
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	fmt.Fprintf(sb, "%s: %s, code: %d, msg: %s", title, addr, res.Code, res.Msg)
}
