package _const

// JobStatus 任务的调度状态
type JobStatus int

const (
	JobStatusStopped JobStatus = 0x00000000 // 停止调度
	JobStatusRunning JobStatus = 0x00000001 // 调度中
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusStopped:
		return "Stopped"
	case JobStatusRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// AlarmStatus 调度记录的告警状态
type AlarmStatus int

const (
	AlarmStatusLocked      AlarmStatus = -1 // 告警处理中，已被某个监控线程锁定
	AlarmStatusPending     AlarmStatus = 0  // 默认，尚未处理
	AlarmStatusNotNeeded   AlarmStatus = 1  // 无需告警
	AlarmStatusAlarmed     AlarmStatus = 2  // 告警成功
	AlarmStatusAlarmFailed AlarmStatus = 3  // 告警失败
)

func (s AlarmStatus) String() string {
	switch s {
	case AlarmStatusLocked:
		return "Locked"
	case AlarmStatusPending:
		return "Pending"
	case AlarmStatusNotNeeded:
		return "NotNeeded"
	case AlarmStatusAlarmed:
		return "Alarmed"
	case AlarmStatusAlarmFailed:
		return "AlarmFailed"
	default:
		return "Unknown"
	}
}

// AddressType 执行器分组的地址来源
type AddressType int

const (
	AddressTypeAuto   AddressType = 0x00000000 // 根据心跳注册自动发现
	AddressTypeManual AddressType = 0x00000001 // 手动录入
)

// 结果码，调度码和执行码共用
const (
	CodeSuccess = 200 // 成功
	CodeFail    = 500 // 失败
	CodeTimeout = 502 // 执行超时
)
