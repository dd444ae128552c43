package _const

import "time"

// RegistryType 注册节点类型
type RegistryType string

const (
	RegistryTypeExecutor RegistryType = "EXECUTOR"
	RegistryTypeAdmin    RegistryType = "ADMIN"
)

const (
	// BeatInterval 执行器心跳注册的间隔，也是注册表巡检的间隔
	BeatInterval = 30 * time.Second
	// DeadTimeout 超过该时间未续约的注册记录视为死亡
	DeadTimeout = 3 * BeatInterval
	// PreReadWindow 调度预读窗口
	PreReadWindow = 5 * time.Second
	// AccessTokenHeader 调度中心与执行器之间共享密钥的请求头
	AccessTokenHeader = "DISPATCHER-ACCESS-TOKEN"
)
