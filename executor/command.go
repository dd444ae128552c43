package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// CommandHandler 以外部进程执行任务，参数依次为：任务参数、分片序号、分片总数
type CommandHandler struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (h CommandHandler) Execute(ctx context.Context, jc *JobContext) error {
	args := append([]string{}, h.Args...)
	args = append(args, jc.Param, strconv.Itoa(jc.ShardIndex), strconv.Itoa(jc.ShardTotal))

	cmd := exec.CommandContext(ctx, h.Path, args...)
	cmd.Dir = h.Dir
	cmd.Env = append(os.Environ(), h.Env...)
	// 标准输出和错误输出都写入本次调度的日志
	cmd.Stdout = jc
	cmd.Stderr = jc

	jc.Log("----------- command file: %s", h.Path)
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		jc.HandleFail(fmt.Sprintf("command exit value(%d) is failed", exitErr.ExitCode()))
		return nil
	}
	return fmt.Errorf("run command %s: %w", h.Path, err)
}
