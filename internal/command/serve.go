package command

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eztalk/eztalk-proxy/internal/config"
	"github.com/eztalk/eztalk-proxy/internal/server"
	"github.com/eztalk/eztalk-proxy/internal/usage"
	"github.com/eztalk/eztalk-proxy/internal/websearch"
	"github.com/eztalk/eztalk-proxy/pkg/logkit"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logkit.Setup(logkit.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	logrus.Infof("eztalk-proxy %s starting", version)

	var usageStore *usage.Store
	if cfg.UsageDBPath != "" {
		usageStore, err = usage.Open(cfg.UsageDBPath)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer usageStore.Close()
	}

	search := websearch.NewClient(cfg.GoogleAPIKey, cfg.GoogleCSEID,
		cfg.SearchResultCount, cfg.SearchSnippetMaxLength)
	srv := server.New(cfg, search, usageStore)

	if cfg.ConfigFile != "" {
		watcher, err := config.NewWatcher(cfg.ConfigFile)
		if err != nil {
			logrus.Warnf("config hot reload disabled: %v", err)
		} else {
			watcher.OnReload(func(next *config.Config) {
				srv.UpdateConfig(next)
			})
			if err := watcher.Start(); err != nil {
				logrus.Warnf("config hot reload disabled: %v", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
