package cronclock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
)

var (
	ErrInvalidFixedRate    = errors.New("fixed rate must be an integer number of seconds >= 1")
	ErrUnknownScheduleType = errors.New("unknown schedule type")
)

// Clock 根据调度类型计算下一次触发时间
type Clock struct {
	loc *time.Location
}

func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// NextFireTime 返回严格晚于after的下一次触发时间，ok为false表示不再触发
func (c *Clock) NextFireTime(kind _const.ScheduleType, conf string, after time.Time) (time.Time, bool, error) {
	switch kind {
	case _const.ScheduleTypeNone:
		return time.Time{}, false, nil
	case _const.ScheduleTypeCron:
		expr, err := ParseInLocation(conf, c.loc)
		if err != nil {
			return time.Time{}, false, err
		}
		next, ok := expr.Next(after)
		return next, ok, nil
	case _const.ScheduleTypeFixedRate:
		secs, err := ParseFixedRate(conf)
		if err != nil {
			return time.Time{}, false, err
		}
		// 按整秒计算，避免毫秒误差逐轮累积
		return after.Truncate(time.Second).Add(time.Duration(secs) * time.Second), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrUnknownScheduleType, kind)
	}
}

// ValidateSchedule 校验调度配置
func (c *Clock) ValidateSchedule(kind _const.ScheduleType, conf string) error {
	switch kind {
	case _const.ScheduleTypeNone:
		return nil
	case _const.ScheduleTypeCron:
		_, err := ParseInLocation(conf, c.loc)
		return err
	case _const.ScheduleTypeFixedRate:
		_, err := ParseFixedRate(conf)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScheduleType, kind)
	}
}

func ParseFixedRate(conf string) (int, error) {
	secs, err := strconv.Atoi(strings.TrimSpace(conf))
	if err != nil || secs < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFixedRate, conf)
	}
	return secs, nil
}
