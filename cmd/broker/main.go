package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/linemq/lmq/config"
	"github.com/linemq/lmq/pkg/logger"
	"github.com/linemq/lmq/server"
)

func main() {
	flags := pflag.NewFlagSet("broker", pflag.ExitOnError)
	flags.String("listener", "", "listen address (host:port)")
	flags.String("log.level", "", "log level (debug, info, warn, error)")
	_ = flags.Parse(os.Args[1:])

	confPath := config.DefaultPath
	if args := flags.Args(); len(args) > 0 {
		confPath = args[0]
	}

	cfg, err := config.Load(confPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.Log.Level), os.Stderr)

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("error building server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := srv.Start(); err != nil {
		log.Error("error starting server", "error", err)
		os.Exit(1)
	}
	log.Info("broker started", "address", srv.Addr().String())

	<-ctx.Done()
	srv.Shutdown()
}
