package job_dispatcher

import (
	"sync"
)

const wheelSize = 60

// TimeWheel 按秒分桶的时间轮，预读到的任务按触发时间的秒数入桶
type TimeWheel struct {
	mu      sync.Mutex
	buckets [wheelSize][]int64
}

func NewTimeWheel() *TimeWheel {
	return &TimeWheel{}
}

func (w *TimeWheel) Push(second int, jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := ((second % wheelSize) + wheelSize) % wheelSize
	w.buckets[idx] = append(w.buckets[idx], jobID)
}

// Drain 取出并清空给定秒数的桶
func (w *TimeWheel) Drain(seconds ...int) []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var res []int64
	for _, s := range seconds {
		idx := ((s % wheelSize) + wheelSize) % wheelSize
		res = append(res, w.buckets[idx]...)
		w.buckets[idx] = nil
	}
	return res
}

func (w *TimeWheel) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.buckets {
		if len(b) > 0 {
			return false
		}
	}
	return true
}

// Len 当前时间轮中待触发的任务数
func (w *TimeWheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.buckets {
		n += len(b)
	}
	return n
}
