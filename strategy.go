package job_dispatcher

import (
	"time"
)

// ScanStrategy 计算下一轮扫描前需要等待的时间
type ScanStrategy interface {
	Next(preReadSuc bool, cost time.Duration, now time.Time) time.Duration
}

// AlignedScanStrategy 预读到任务时1秒后再扫描，否则等待整个预读窗口，均对齐到整秒
type AlignedScanStrategy struct {
	busy time.Duration
	idle time.Duration
}

func NewAlignedScanStrategy(busy, idle time.Duration) *AlignedScanStrategy {
	return &AlignedScanStrategy{busy: busy, idle: idle}
}

func (s *AlignedScanStrategy) Next(preReadSuc bool, cost time.Duration, now time.Time) time.Duration {
	// 本轮耗时超过1秒则立即开始下一轮
	if cost >= time.Second {
		return 0
	}
	interval := s.idle
	if preReadSuc {
		interval = s.busy
	}
	return alignTo(interval, now)
}

// alignTo 返回 interval 减去当前秒内已走过的毫秒
func alignTo(interval time.Duration, now time.Time) time.Duration {
	wait := interval - time.Duration(now.UnixMilli()%1000)*time.Millisecond
	if wait < 0 {
		return 0
	}
	return wait
}
