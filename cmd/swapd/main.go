package main

import (
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/crosslock/swapd/internal/app-config"
	"github.com/crosslock/swapd/internal/config"
	log "github.com/sirupsen/logrus"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	appConfig := &appconfig.Config{
		DbType:           cfg.DbType,
		DbDir:            cfg.DbDir,
		SchedulerType:    cfg.SchedulerType,
		LedgerType:       cfg.LedgerType,
		LedgerAId:        cfg.LedgerAId,
		LedgerBId:        cfg.LedgerBId,
		PollInterval:     cfg.PollInterval,
		CallTimeout:      cfg.CallTimeout,
		SafetyMargin:     cfg.SafetyMargin,
		MaxWriteAttempts: cfg.MaxWriteAttempts,
		NumWorkers:       cfg.NumWorkers,
	}
	if err := appConfig.Validate(); err != nil {
		log.WithError(err).Fatal("invalid app config")
	}

	svc := appConfig.AppService()

	log.RegisterExitHandler(svc.Stop)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		log.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}
