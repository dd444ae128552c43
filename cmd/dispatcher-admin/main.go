// dispatcher-admin 调度中心进程
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TimeWtr/job_dispatcher"
	"github.com/TimeWtr/job_dispatcher/config"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/repository/dao"
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
		Name:  "dispatcher-admin",
		Usage: "job dispatcher scheduling center",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (yaml or json)",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "override the rpc listen address",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.DefaultAdminConfig()
	if path := cmd.String("config"); path != "" {
		if err := config.Load(path, &cfg); err != nil {
			return err
		}
	}
	if listen := cmd.String("listen"); listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, closeLog, err := logger.Build(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	store, err := dao.Open(ctx, cfg.DB, l)
	if err != nil {
		l.Error("failed to open job store", logger.Error(err))
		return err
	}
	defer func() { _ = store.Close() }()

	admin, err := job_dispatcher.NewAdmin(store, cfg.Options(l)...)
	if err != nil {
		return err
	}
	if err = admin.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	l.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err = admin.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("failed to stop admin", logger.Error(err))
		return err
	}
	return nil
}
