package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"kioskcal/internal/config"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/secret"
	"kioskcal/internal/store"
	"kioskcal/internal/sync"
	"kioskcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("kioskcal starting")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"data_dir", conf.DataDir,
		"refresh", conf.Sync.RefreshCron,
		"max_retries", conf.Sync.MaxRetries,
		"once", flags.once,
	)

	st, err := store.Open(conf.DataDir)
	if err != nil {
		appLog.Error("failed to open store", err, "data_dir", conf.DataDir)
		os.Exit(1)
	}
	defer st.Close()

	secrets := secret.NewEncryptor(conf.EncryptionPassphrase)

	engine := sync.NewEngine(sync.Config{
		Store:                  st,
		Secrets:                secrets,
		DefaultLocation:        conf.Location(),
		MaxRetries:             conf.Sync.MaxRetries,
		MaxOccurrencesPerEvent: conf.Sync.MaxOccurrencesPerEvent,
		InitialTimeout:         conf.InitialTimeout(),
		BackgroundTimeout:      conf.BackgroundTimeout(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		results := engine.SyncAll(ctx)
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		appLog.Info("single sync cycle complete", "sources", len(results), "failed", failed)
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	scheduler := sync.NewScheduler(engine, conf.Sync.RefreshCron)
	if err := scheduler.Start(ctx); err != nil {
		appLog.Error("failed to start scheduler", err, "cron", conf.Sync.RefreshCron)
		os.Exit(1)
	}
	defer scheduler.Stop()

	server := web.NewServer(conf, st, engine, secrets)
	if err := server.Serve(ctx); err != nil {
		appLog.Error("HTTP server stopped", err)
		os.Exit(1)
	}

	appLog.Info("kioskcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig
	flag.StringVar(&cfg.configPath, "config", "/etc/kioskcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync cycle for all sources and exit")
	flag.Parse()
	return cfg
}
