package executor

import (
	"fmt"
	"sync"

	_const "github.com/TimeWtr/job_dispatcher/const"
)

// JobContext 一次调度的上下文，处理器通过它写日志和设置执行结果
type JobContext struct {
	JobID      int64
	LogID      int64
	Param      string
	ShardIndex int
	ShardTotal int
	// LogFile 本次调度的日志文件
	LogFile string

	logs *LogStore

	mu         sync.Mutex
	handleCode int
	handleMsg  string
}

func newJobContext(jobID, logID int64, param string, index, total int, logFile string, logs *LogStore) *JobContext {
	return &JobContext{
		JobID:      jobID,
		LogID:      logID,
		Param:      param,
		ShardIndex: index,
		ShardTotal: total,
		LogFile:    logFile,
		logs:       logs,
		handleCode: _const.CodeSuccess,
	}
}

// Log 追加一行到本次调度的日志文件
func (jc *JobContext) Log(format string, args ...any) {
	if jc.logs == nil || jc.LogFile == "" {
		return
	}
	jc.logs.Append(jc.LogFile, fmt.Sprintf(format, args...))
}

// Write 供外部进程的输出直接写入日志文件
func (jc *JobContext) Write(p []byte) (int, error) {
	if jc.logs == nil || jc.LogFile == "" {
		return len(p), nil
	}
	return jc.logs.AppendRaw(jc.LogFile, p)
}

func (jc *JobContext) HandleSuccess(msg string) {
	jc.HandleResult(_const.CodeSuccess, msg)
}

func (jc *JobContext) HandleFail(msg string) {
	jc.HandleResult(_const.CodeFail, msg)
}

func (jc *JobContext) HandleTimeout(msg string) {
	jc.HandleResult(_const.CodeTimeout, msg)
}

// HandleResult 设置执行结果，code小于等于0视为结果丢失
func (jc *JobContext) HandleResult(code int, msg string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.handleCode = code
	jc.handleMsg = msg
}

func (jc *JobContext) Result() (int, string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.handleCode, jc.handleMsg
}
