package cronclock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyExpression   = errors.New("cron expression is empty")
	ErrInvalidExpression = errors.New("invalid cron expression")
)

const (
	minYear = 1970
	maxYear = 2199
	// searchYears 向后最多搜索的年数，超过则认为没有下次触发时间
	searchYears = 100
)

const (
	fieldSecond = iota
	fieldMinute
	fieldHour
	fieldDayOfMonth
	fieldMonth
	fieldDayOfWeek
	fieldYear
)

type bounds struct {
	name     string
	min, max int
	names    map[string]int
}

var months = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var weekdays = map[string]int{
	"SUN": 1, "MON": 2, "TUE": 3, "WED": 4, "THU": 5, "FRI": 6, "SAT": 7,
}

var fieldBounds = [...]bounds{
	fieldSecond:     {name: "second", min: 0, max: 59},
	fieldMinute:     {name: "minute", min: 0, max: 59},
	fieldHour:       {name: "hour", min: 0, max: 23},
	fieldDayOfMonth: {name: "day-of-month", min: 1, max: 31},
	fieldMonth:      {name: "month", min: 1, max: 12, names: months},
	fieldDayOfWeek:  {name: "day-of-week", min: 1, max: 7, names: weekdays},
	fieldYear:       {name: "year", min: minYear, max: maxYear},
}

// valueSet 位图，年份按 year-minYear 存储
type valueSet [4]uint64

func (s *valueSet) add(v int) {
	s[v>>6] |= 1 << uint(v&63)
}

func (s *valueSet) has(v int) bool {
	if v < 0 || v >= 256 {
		return false
	}
	return s[v>>6]&(1<<uint(v&63)) != 0
}

// next 返回 [v, max] 中最小的成员，不存在返回-1
func (s *valueSet) next(v, max int) int {
	for ; v <= max; v++ {
		if s.has(v) {
			return v
		}
	}
	return -1
}

// Expression 解析后的cron表达式，格式：秒 分 时 日 月 周 [年]
// 周的取值 1-7 对应 SUN-SAT
type Expression struct {
	source string
	loc    *time.Location

	seconds, minutes, hours valueSet
	doms, months, dows      valueSet
	years                   valueSet

	// 日、周二者必有且只有一个为 ?
	domAny bool
	dowAny bool

	lastDay        bool // L
	lastDayOffset  int  // L-n
	nearestWeekday bool // W
	domValue       int  // nW 中的 n

	lastDow  bool // nL
	nthDow   int  // n#k 中的 k
	dowValue int  // nL、n#k 中的 n
}

// Parse 使用本地时区解析
func Parse(expr string) (*Expression, error) {
	return ParseInLocation(expr, time.Local)
}

func ParseInLocation(expr string, loc *time.Location) (*Expression, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyExpression
	}
	if loc == nil {
		loc = time.Local
	}
	parts := strings.Fields(strings.ToUpper(expr))
	if len(parts) != 6 && len(parts) != 7 {
		return nil, fmt.Errorf("%w: expected 6 or 7 fields, got %d", ErrInvalidExpression, len(parts))
	}

	e := &Expression{source: expr, loc: loc}
	simple := []struct {
		idx int
		set *valueSet
	}{
		{fieldSecond, &e.seconds},
		{fieldMinute, &e.minutes},
		{fieldHour, &e.hours},
		{fieldMonth, &e.months},
	}
	for _, f := range simple {
		if err := parseList(f.idx, parts[f.idx], f.set); err != nil {
			return nil, err
		}
	}
	if err := e.parseDayOfMonth(parts[fieldDayOfMonth]); err != nil {
		return nil, err
	}
	if err := e.parseDayOfWeek(parts[fieldDayOfWeek]); err != nil {
		return nil, err
	}
	if e.domAny == e.dowAny {
		return nil, fmt.Errorf("%w: exactly one of day-of-month and day-of-week must be '?'", ErrInvalidExpression)
	}

	if len(parts) == 7 {
		if err := parseList(fieldYear, parts[fieldYear], &e.years); err != nil {
			return nil, err
		}
	} else {
		for y := minYear; y <= maxYear; y++ {
			e.years.add(y - minYear)
		}
	}
	return e, nil
}

// Validate 校验表达式是否合法
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

func (e *Expression) String() string {
	return e.source
}

func (e *Expression) parseDayOfMonth(text string) error {
	b := fieldBounds[fieldDayOfMonth]
	switch {
	case text == "?":
		e.domAny = true
		return nil
	case text == "L":
		e.lastDay = true
		return nil
	case text == "LW":
		e.lastDay, e.nearestWeekday = true, true
		return nil
	case strings.HasPrefix(text, "L-"):
		n, err := strconv.Atoi(text[2:])
		if err != nil || n < 0 || n > 30 {
			return fieldErr(b, text)
		}
		e.lastDay, e.lastDayOffset = true, n
		return nil
	case strings.HasSuffix(text, "W"):
		n, err := strconv.Atoi(strings.TrimSuffix(text, "W"))
		if err != nil || n < b.min || n > b.max {
			return fieldErr(b, text)
		}
		e.nearestWeekday, e.domValue = true, n
		return nil
	}
	return parseList(fieldDayOfMonth, text, &e.doms)
}

func (e *Expression) parseDayOfWeek(text string) error {
	b := fieldBounds[fieldDayOfWeek]
	switch {
	case text == "?":
		e.dowAny = true
		return nil
	case text == "L":
		e.dows.add(7)
		return nil
	case strings.Contains(text, "#"):
		idx := strings.IndexByte(text, '#')
		d, err := value(b, text[:idx])
		if err != nil {
			return err
		}
		k, err := strconv.Atoi(text[idx+1:])
		if err != nil || k < 1 || k > 5 {
			return fieldErr(b, text)
		}
		e.dowValue, e.nthDow = d, k
		return nil
	case len(text) > 1 && strings.HasSuffix(text, "L"):
		d, err := value(b, strings.TrimSuffix(text, "L"))
		if err != nil {
			return err
		}
		e.dowValue, e.lastDow = d, true
		return nil
	}
	return parseList(fieldDayOfWeek, text, &e.dows)
}

func parseList(idx int, text string, set *valueSet) error {
	b := fieldBounds[idx]
	for _, part := range strings.Split(text, ",") {
		if part == "" {
			return fieldErr(b, text)
		}
		if part == "?" && idx != fieldDayOfMonth && idx != fieldDayOfWeek {
			return fieldErr(b, text)
		}
		if err := parsePart(idx, part, set); err != nil {
			return err
		}
	}
	return nil
}

func parsePart(idx int, part string, set *valueSet) error {
	b := fieldBounds[idx]
	step, hasStep := 1, false
	if i := strings.IndexByte(part, '/'); i >= 0 {
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 || n > b.max-b.min+1 {
			return fieldErr(b, part)
		}
		step, hasStep = n, true
		part = part[:i]
	}

	var lo, hi int
	switch {
	case part == "*" || part == "?":
		lo, hi = b.min, b.max
	case strings.Contains(part, "-"):
		i := strings.IndexByte(part, '-')
		var err error
		if lo, err = value(b, part[:i]); err != nil {
			return err
		}
		if hi, err = value(b, part[i+1:]); err != nil {
			return err
		}
	default:
		v, err := value(b, part)
		if err != nil {
			return err
		}
		lo, hi = v, v
		if hasStep {
			hi = b.max
		}
	}

	offset := 0
	if idx == fieldYear {
		offset = minYear
	}
	if lo <= hi {
		for v := lo; v <= hi; v += step {
			set.add(v - offset)
		}
		return nil
	}
	// 溢出区间，例如 22-2、FRI-MON
	size := b.max - b.min + 1
	span := (hi - lo + size) % size
	for k := 0; k <= span; k += step {
		set.add(b.min + (lo-b.min+k)%size - offset)
	}
	return nil
}

func value(b bounds, text string) (int, error) {
	if v, ok := b.names[text]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil || v < b.min || v > b.max {
		return 0, fieldErr(b, text)
	}
	return v, nil
}

func fieldErr(b bounds, text string) error {
	return fmt.Errorf("%w: bad %s value %q", ErrInvalidExpression, b.name, text)
}

// Next 返回严格晚于after的下一次触发时间，没有则返回false
func (e *Expression) Next(after time.Time) (time.Time, bool) {
	loc := e.loc
	after = after.In(loc)
	limit := after.Year() + searchYears
	t := after.Truncate(time.Second).Add(time.Second)

	for t.Year() <= limit && t.Year() <= maxYear {
		y := t.Year()
		if !e.years.has(y - minYear) {
			ny := e.years.next(y-minYear+1, maxYear-minYear)
			if ny < 0 {
				return time.Time{}, false
			}
			t = forward(t, time.Date(ny+minYear, time.January, 1, 0, 0, 0, 0, loc))
			continue
		}

		m := int(t.Month())
		if !e.months.has(m) {
			nm := e.months.next(m+1, 12)
			if nm < 0 {
				t = forward(t, time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc))
			} else {
				t = forward(t, time.Date(y, time.Month(nm), 1, 0, 0, 0, 0, loc))
			}
			continue
		}

		nextDay := time.Date(y, t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
		if !e.matchDay(t) {
			t = forward(t, nextDay)
			continue
		}

		if !e.hours.has(t.Hour()) {
			nh := e.hours.next(t.Hour()+1, 23)
			if nh < 0 {
				t = forward(t, nextDay)
			} else {
				t = forward(t, time.Date(y, t.Month(), t.Day(), nh, 0, 0, 0, loc))
			}
			continue
		}

		if !e.minutes.has(t.Minute()) {
			nm := e.minutes.next(t.Minute()+1, 59)
			if nm < 0 {
				t = forward(t, time.Date(y, t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc))
			} else {
				t = forward(t, time.Date(y, t.Month(), t.Day(), t.Hour(), nm, 0, 0, loc))
			}
			continue
		}

		if !e.seconds.has(t.Second()) {
			ns := e.seconds.next(t.Second()+1, 59)
			if ns < 0 {
				t = forward(t, time.Date(y, t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, loc))
			} else {
				t = forward(t, time.Date(y, t.Month(), t.Day(), t.Hour(), t.Minute(), ns, 0, loc))
			}
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// forward 夏令时切换时time.Date可能回退，保证时间单调前进
func forward(prev, next time.Time) time.Time {
	if next.After(prev) {
		return next
	}
	return prev.Add(time.Second)
}

func (e *Expression) matchDay(t time.Time) bool {
	day := t.Day()
	last := daysIn(t.Year(), t.Month())
	if !e.domAny {
		switch {
		case e.lastDay && e.nearestWeekday:
			return day == lastWeekday(t.Year(), t.Month(), last, e.loc)
		case e.lastDay:
			return day == last-e.lastDayOffset
		case e.nearestWeekday:
			return day == nearestWeekday(t.Year(), t.Month(), e.domValue, last, e.loc)
		default:
			return e.doms.has(day)
		}
	}

	wd := int(t.Weekday()) + 1
	switch {
	case e.lastDow:
		return wd == e.dowValue && day+7 > last
	case e.nthDow > 0:
		return wd == e.dowValue && (day-1)/7+1 == e.nthDow
	default:
		return e.dows.has(wd)
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// nearestWeekday 距离第n天最近的工作日，不跨月
func nearestWeekday(year int, month time.Month, n, last int, loc *time.Location) int {
	if n > last {
		return -1
	}
	switch time.Date(year, month, n, 0, 0, 0, 0, loc).Weekday() {
	case time.Saturday:
		if n == 1 {
			return 3
		}
		return n - 1
	case time.Sunday:
		if n == last {
			return n - 2
		}
		return n + 1
	default:
		return n
	}
}

func lastWeekday(year int, month time.Month, last int, loc *time.Location) int {
	switch time.Date(year, month, last, 0, 0, 0, 0, loc).Weekday() {
	case time.Saturday:
		return last - 1
	case time.Sunday:
		return last - 2
	default:
		return last
	}
}
