package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/katichev/rt-pager/internal/config"
	"github.com/katichev/rt-pager/internal/gateway"
	"github.com/katichev/rt-pager/internal/rtlog"
)

func main() {
	root := &cobra.Command{
		Use:   "rt-pager-server",
		Short: "gateway letting remote clients page SSH log files through `less`",
		RunE:  run,
	}

	root.Flags().String("addr", "", "listen address, overrides the config file's listen_addr")
	root.Flags().String("config", "", "path to a YAML config file")
	root.Flags().String("log-file", "", "also write logs to this file")
	root.Flags().String("log-level", "info", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logFile, _ := cmd.Flags().GetString("log-file")
	logLevel, _ := cmd.Flags().GetString("log-level")
	if err := rtlog.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		watcher, err := config.Watch(configPath, cfg, func(reloaded *config.Config) {
			cfg.Hosts = reloaded.Hosts
		})
		if err != nil {
			rtlog.Warn("failed to watch config file for changes", "path", configPath, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rtlog.Info("rt-pager-server listening", "addr", cfg.ListenAddr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				rtlog.Info("shutting down")
				return nil
			default:
				rtlog.Warn("accept failed", "error", err)
				continue
			}
		}
		rtlog.Info("client connected", "remote", conn.RemoteAddr())
		loop := gateway.New(conn, cfg)
		go loop.Run(ctx)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
