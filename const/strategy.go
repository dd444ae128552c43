package _const

// ScheduleType 调度类型
type ScheduleType string

const (
	ScheduleTypeNone      ScheduleType = "NONE"       // 不自动调度，只能手动触发
	ScheduleTypeCron      ScheduleType = "CRON"       // cron表达式
	ScheduleTypeFixedRate ScheduleType = "FIXED_RATE" // 固定频率，单位秒
)

func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleTypeNone, ScheduleTypeCron, ScheduleTypeFixedRate:
		return true
	default:
		return false
	}
}

// MisfireStrategy 调度过期策略
type MisfireStrategy string

const (
	MisfireDoNothing   MisfireStrategy = "DO_NOTHING"    // 忽略，从当前时间重新计算下次调度时间
	MisfireFireOnceNow MisfireStrategy = "FIRE_ONCE_NOW" // 立即补偿调度一次
)

func (s MisfireStrategy) Valid() bool {
	return s == MisfireDoNothing || s == MisfireFireOnceNow
}

// Canonical 把别名IGNORE换成存储和传输使用的取值
func (s MisfireStrategy) Canonical() MisfireStrategy {
	if s == "IGNORE" {
		return MisfireDoNothing
	}
	return s
}

// RouteStrategy 执行器路由策略
type RouteStrategy string

const (
	RouteFirst             RouteStrategy = "FIRST"
	RouteLast              RouteStrategy = "LAST"
	RouteRound             RouteStrategy = "ROUND"
	RouteRandom            RouteStrategy = "RANDOM"
	RouteConsistentHash    RouteStrategy = "CONSISTENT_HASH"
	RouteLeastFrequent     RouteStrategy = "LEAST_FREQUENTLY_USED"
	RouteLeastRecent       RouteStrategy = "LEAST_RECENTLY_USED"
	RouteFailover          RouteStrategy = "FAILOVER"
	RouteBusyover          RouteStrategy = "BUSYOVER"
	RouteShardingBroadcast RouteStrategy = "SHARDING_BROADCAST"
)

func (s RouteStrategy) Valid() bool {
	switch s {
	case RouteFirst, RouteLast, RouteRound, RouteRandom, RouteConsistentHash,
		RouteLeastFrequent, RouteLeastRecent, RouteFailover, RouteBusyover, RouteShardingBroadcast:
		return true
	default:
		return false
	}
}

// Canonical 把别名ROUND_ROBIN换成存储使用的取值
func (s RouteStrategy) Canonical() RouteStrategy {
	if s == "ROUND_ROBIN" {
		return RouteRound
	}
	return s
}

func (s RouteStrategy) Title() string {
	switch s {
	case RouteFirst:
		return "First"
	case RouteLast:
		return "Last"
	case RouteRound:
		return "Round"
	case RouteRandom:
		return "Random"
	case RouteConsistentHash:
		return "Consistent Hash"
	case RouteLeastFrequent:
		return "Least Frequently Used"
	case RouteLeastRecent:
		return "Least Recently Used"
	case RouteFailover:
		return "Failover"
	case RouteBusyover:
		return "Busyover"
	case RouteShardingBroadcast:
		return "Sharding Broadcast"
	default:
		return "Unknown"
	}
}

// BlockStrategy 执行器侧的阻塞处理策略
type BlockStrategy string

const (
	BlockSerial        BlockStrategy = "SERIAL_EXECUTION" // 单机串行
	BlockDiscardLatest BlockStrategy = "DISCARD_LATER"    // 丢弃后续调度
	BlockCoverEarliest BlockStrategy = "COVER_EARLY"      // 覆盖之前调度
)

func (s BlockStrategy) Valid() bool {
	switch s {
	case BlockSerial, BlockDiscardLatest, BlockCoverEarliest:
		return true
	default:
		return false
	}
}

// Canonical 别名SERIAL、DISCARD_LATEST、COVER_EARLIEST对应执行器协议中的取值
func (s BlockStrategy) Canonical() BlockStrategy {
	switch s {
	case "SERIAL":
		return BlockSerial
	case "DISCARD_LATEST":
		return BlockDiscardLatest
	case "COVER_EARLIEST":
		return BlockCoverEarliest
	default:
		return s
	}
}

func (s BlockStrategy) Title() string {
	switch s {
	case BlockSerial:
		return "Serial execution"
	case BlockDiscardLatest:
		return "Discard Later"
	case BlockCoverEarliest:
		return "Cover Early"
	default:
		return "Unknown"
	}
}

// TriggerType 触发类型
type TriggerType string

const (
	TriggerCron    TriggerType = "CRON"
	TriggerManual  TriggerType = "MANUAL"
	TriggerParent  TriggerType = "PARENT"
	TriggerAPI     TriggerType = "API"
	TriggerRetry   TriggerType = "RETRY"
	TriggerMisfire TriggerType = "MISFIRE"
)

func (t TriggerType) Title() string {
	switch t {
	case TriggerCron:
		return "Cron trigger"
	case TriggerManual:
		return "Manual trigger"
	case TriggerParent:
		return "Parent job trigger"
	case TriggerAPI:
		return "API trigger"
	case TriggerRetry:
		return "Fail retry trigger"
	case TriggerMisfire:
		return "Misfire compensation trigger"
	default:
		return "Unknown trigger"
	}
}
