package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/switchboardhq/switchboard/internal/config"
	"github.com/switchboardhq/switchboard/internal/db"
	"github.com/switchboardhq/switchboard/internal/executor"
	"github.com/switchboardhq/switchboard/internal/notify"
	notifydiscord "github.com/switchboardhq/switchboard/internal/notify/discord"
	notifyslack "github.com/switchboardhq/switchboard/internal/notify/slack"
	"github.com/switchboardhq/switchboard/internal/repo"
	"github.com/switchboardhq/switchboard/internal/server"
	"github.com/switchboardhq/switchboard/internal/share"
	"github.com/switchboardhq/switchboard/internal/stream"
	"github.com/switchboardhq/switchboard/internal/sweeper"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchboard API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfigWithPassword(configPath)
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}

	cache := stream.NewCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer cache.Close()

	opts := server.StartOpts{
		DB:      gormDB,
		Cache:   cache,
		Port:    cfg.Server.Port,
		ChatTTL: cfg.Append.ChatExpireHours,
		CodeTTL: cfg.Append.CodeExpireHours,
		Out:     cmd.OutOrStdout(),
	}

	if cfg.Share.AESKey != "" {
		codec, err := share.NewTokenCodec(cfg.Share.AESKey, cfg.Share.AESIV)
		if err != nil {
			return err
		}
		opts.Codec = codec
	}
	if cfg.Executor.BaseURL != "" {
		opts.Teardown = executor.NewClient(cfg.Executor.BaseURL)
	}
	opts.Repos = repo.NewGitHub(context.Background(), cfg.Git.GitHubToken)

	notifiers, err := buildNotifiers(cfg)
	if err != nil {
		return err
	}
	multi := notify.NewMulti(notifiers...)
	defer multi.Close()
	opts.Notify = multi

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sw, err := sweeper.New(gormDB, cfg.Sweeper.Schedule, time.Duration(cfg.Sweeper.MaxAgeHr)*time.Hour)
	if err != nil {
		return err
	}
	go sw.Run(ctx)

	return server.Start(ctx, opts)
}

func buildNotifiers(cfg *config.Config) ([]notify.Notifier, error) {
	var out []notify.Notifier
	if cfg.Notify.Slack.BotToken != "" {
		out = append(out, notifyslack.New(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.ChannelID))
	}
	if cfg.Notify.Discord.BotToken != "" {
		n, err := notifydiscord.New(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("discord notifier: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale task-id placeholders once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigWithPassword(configPath)
			if err != nil {
				return err
			}
			gormDB, err := db.Connect(cfg.DB)
			if err != nil {
				return err
			}
			sw, err := sweeper.New(gormDB, cfg.Sweeper.Schedule, time.Duration(cfg.Sweeper.MaxAgeHr)*time.Hour)
			if err != nil {
				return err
			}
			n, err := sw.SweepOnce()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale placeholders\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to config file")
	return cmd
}
