package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/eniz1806/omnistore/internal/config"
	"github.com/eniz1806/omnistore/internal/server"
)

var version = "dev"

func main() {
	flags := pflag.NewFlagSet("omnistore", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "configs/omnistore.yaml", "path to config file")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Printf("omnistore %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		srv.Close()
		os.Exit(1)
	}
}
