package executor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
)

const (
	dateLayout    = "2006-01-02"
	callbackDir   = "callbacklog"
	minRetention  = 3
	logTimeLayout = "2006-01-02 15:04:05"
	logFileSuffix = ".log"
)

// LogStore 每次调度一个日志文件：<base>/yyyy-MM-dd/<logId>.log
type LogStore struct {
	base   string
	loc    *time.Location
	logger logger.Logger
	mu     sync.Mutex
}

func NewLogStore(base string, loc *time.Location, l logger.Logger) (*LogStore, error) {
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create log path %s: %w", base, err)
	}
	return &LogStore{base: base, loc: loc, logger: l}, nil
}

func (s *LogStore) Base() string {
	return s.base
}

// CallbackDir 回调失败落盘的目录
func (s *LogStore) CallbackDir() string {
	return filepath.Join(s.base, callbackDir)
}

// FileName 按调度时间（毫秒）和调度记录ID得到日志文件路径
func (s *LogStore) FileName(logDateTime int64, logID int64) string {
	day := time.UnixMilli(logDateTime).In(s.loc).Format(dateLayout)
	return filepath.Join(s.base, day, strconv.FormatInt(logID, 10)+logFileSuffix)
}

// Append 追加一行，带时间前缀
func (s *LogStore) Append(fileName, line string) {
	text := time.Now().In(s.loc).Format(logTimeLayout) + " " + line
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := s.AppendRaw(fileName, []byte(text)); err != nil {
		s.logger.Warn("failed to append job log",
			logger.Field{Key: "file", Val: fileName}, logger.Error(err))
	}
}

func (s *LogStore) AppendRaw(fileName string, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Write(p)
}

// ReadLog 读取 [fromLine, 末行] 的内容，行号从1开始
func (s *LogStore) ReadLog(fileName string, fromLine int) remoting.LogResult {
	f, err := os.Open(fileName)
	if err != nil {
		return remoting.LogResult{FromLineNum: fromLine, LogContent: "readLog fail, logFile not exists", IsEnd: true}
	}
	defer f.Close()

	var (
		sb     strings.Builder
		toLine int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		toLine++
		if toLine >= fromLine {
			sb.WriteString(scanner.Text())
			sb.WriteString("\n")
		}
	}
	if err = scanner.Err(); err != nil {
		s.logger.Warn("failed to read job log", logger.Field{Key: "file", Val: fileName}, logger.Error(err))
	}
	return remoting.LogResult{FromLineNum: fromLine, ToLineNum: toLine, LogContent: sb.String()}
}

// Clean 删除超过保留天数的日期目录，返回删除的目录数
func (s *LogStore) Clean(retentionDays int, now time.Time) (int, error) {
	if retentionDays < minRetention {
		return 0, nil
	}
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return 0, err
	}
	now = now.In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, entry.Name(), s.loc)
		if err != nil {
			continue
		}
		if !day.AddDate(0, 0, retentionDays).After(today) {
			if err = os.RemoveAll(filepath.Join(s.base, entry.Name())); err != nil {
				s.logger.Warn("failed to remove job log dir",
					logger.Field{Key: "dir", Val: entry.Name()}, logger.Error(err))
				continue
			}
			removed++
		}
	}
	return removed, nil
}
