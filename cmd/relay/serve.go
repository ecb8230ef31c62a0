package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/poemonsense/cloudcode-relay/internal/account"
	"github.com/poemonsense/cloudcode-relay/internal/cloudcode"
	"github.com/poemonsense/cloudcode-relay/internal/config"
	"github.com/poemonsense/cloudcode-relay/internal/server"
	"github.com/poemonsense/cloudcode-relay/internal/utils"
	"github.com/poemonsense/cloudcode-relay/pkg/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.DevMode {
		utils.SetDebug(true)
	}

	var store *redis.AccountStore
	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = redis.NewAccountStore(client)
		utils.Info("[Server] Using redis at %s", cfg.Redis.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := account.NewManager(store, account.NewCredentials(store))
	if err := manager.Initialize(ctx, cfg.Dispatch.Strategy); err != nil {
		return err
	}
	if manager.GetAccountCount() == 0 {
		utils.Warn("[Server] No accounts configured; run 'relay accounts add' or 'relay accounts import'")
	}

	dispatcher := cloudcode.NewDispatcher(cfg, manager)
	srv := server.New(cfg, manager, dispatcher)

	// The ledger also drops expired entries on every selection; the periodic
	// sweep keeps idle pools tidy between requests.
	sweeper := cron.New()
	_, _ = sweeper.AddFunc("@every 1m", manager.ClearExpiredLimits)
	sweeper.Start()
	defer sweeper.Stop()

	if _, err := os.Stat(configPath); err == nil {
		currentStrategy := cfg.Dispatch.Strategy
		watcher, werr := config.NewWatcher(configPath, cfg, func(next *config.Config) {
			if next.Dispatch.Strategy != currentStrategy {
				if err := manager.SetStrategy(next.Dispatch.Strategy); err != nil {
					utils.Error("[Server] Config reload: %v", err)
					return
				}
				currentStrategy = next.Dispatch.Strategy
			}
		})
		if werr != nil {
			utils.Warn("[Server] Config watch disabled: %v", werr)
		} else {
			defer watcher.Close()
		}
	}

	return srv.Run(ctx)
}
