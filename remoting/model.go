package remoting

import (
	_const "github.com/TimeWtr/job_dispatcher/const"
)

// ReturnT 所有RPC的统一返回
type ReturnT struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

func Success() ReturnT {
	return ReturnT{Code: _const.CodeSuccess}
}

func SuccessMsg(msg string) ReturnT {
	return ReturnT{Code: _const.CodeSuccess, Msg: msg}
}

func Fail(msg string) ReturnT {
	return ReturnT{Code: _const.CodeFail, Msg: msg}
}

func (r ReturnT) OK() bool {
	return r.Code == _const.CodeSuccess
}

// LogReturnT 查询执行日志的返回
type LogReturnT struct {
	Code    int        `json:"code"`
	Msg     string     `json:"msg,omitempty"`
	Content *LogResult `json:"content,omitempty"`
}

// TriggerParam 调度中心下发给执行器的调度参数
type TriggerParam struct {
	JobID                 int64  `json:"jobId"`
	ExecutorHandler       string `json:"executorHandler"`
	ExecutorParams        string `json:"executorParams"`
	ExecutorBlockStrategy string `json:"executorBlockStrategy"`
	ExecutorTimeout       int    `json:"executorTimeout"`
	LogID                 int64  `json:"logId"`
	// LogDateTime 调度时间，毫秒，执行器据此定位日志目录
	LogDateTime    int64 `json:"logDateTime"`
	BroadcastIndex int   `json:"broadcastIndex"`
	BroadcastTotal int   `json:"broadcastTotal"`
}

type IdleBeatParam struct {
	JobID int64 `json:"jobId"`
}

type KillParam struct {
	JobID int64 `json:"jobId"`
}

type LogParam struct {
	LogDateTime int64 `json:"logDateTim"`
	LogID       int64 `json:"logId"`
	FromLineNum int   `json:"fromLineNum"`
}

type LogResult struct {
	FromLineNum int    `json:"fromLineNum"`
	ToLineNum   int    `json:"toLineNum"`
	LogContent  string `json:"logContent"`
	IsEnd       bool   `json:"isEnd"`
}

// HandleCallbackParam 执行器回调的执行结果
type HandleCallbackParam struct {
	LogID       int64  `json:"logId"`
	LogDateTime int64  `json:"logDateTim"`
	HandleCode  int    `json:"handleCode"`
	HandleMsg   string `json:"handleMsg"`
}

type RegistryParam struct {
	RegistryGroup string `json:"registryGroup"`
	RegistryKey   string `json:"registryKey"`
	RegistryValue string `json:"registryValue"`
}
