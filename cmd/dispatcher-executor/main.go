// dispatcher-executor 执行器进程，内置示例处理器
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TimeWtr/job_dispatcher/config"
	"github.com/TimeWtr/job_dispatcher/executor"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "dispatcher-executor",
		Usage: "job dispatcher executor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (yaml or json)",
			},
			&cli.StringFlag{
				Name:  "app-name",
				Usage: "override the executor app name",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "override the rpc port",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.DefaultExecutorConfig()
	if path := cmd.String("config"); path != "" {
		if err := config.Load(path, &cfg); err != nil {
			return err
		}
	}
	if name := cmd.String("app-name"); name != "" {
		cfg.AppName = name
	}
	if port := cmd.Int("port"); port > 0 {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, closeLog, err := logger.Build(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	e, err := executor.New(cfg.Options(l)...)
	if err != nil {
		return err
	}
	if err = registerHandlers(e); err != nil {
		return err
	}
	if err = e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	l.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return e.Stop(stopCtx)
}

func registerHandlers(e *executor.Executor) error {
	if err := e.RegisterFunc("demoJobHandler", demoJob); err != nil {
		return err
	}
	// 任务参数即脚本内容，$0 $1 为分片序号和分片总数
	return e.RegisterHandler("shellJobHandler", executor.CommandHandler{Path: "sh", Args: []string{"-c"}})
}

func demoJob(ctx context.Context, jc *executor.JobContext) error {
	jc.Log("demo job start, param: %s, shard: %d/%d", jc.Param, jc.ShardIndex, jc.ShardTotal)
	for i := 0; i < 5; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			jc.Log("beat at: %d", i)
		}
	}
	jc.HandleSuccess("demo job done")
	return nil
}
