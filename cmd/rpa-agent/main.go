package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"rpa-agent/internal/config"
	"rpa-agent/internal/crypto"
	"rpa-agent/internal/executor"
	"rpa-agent/internal/http"
	"rpa-agent/internal/mailer"
	"rpa-agent/internal/registry"
	"rpa-agent/internal/rpalog"
	"rpa-agent/internal/runner"
	"rpa-agent/internal/scheduler"
)

type Options struct {
	ConfigFile string `short:"c" long:"config" description:"Agent configuration file" default:"config.yaml"`
	Addr       string `short:"a" long:"addr" description:"Management API listen address"`
	JobDir     string `short:"j" long:"job-dir" description:"Directory holding the job packages"`
	LogLevel   string `short:"l" long:"log-level" description:"Log level (debug, info, warn, error)"`
}

const serverShutdownTimeout = 30 * time.Second

func main() {
	godotenv.Load()

	opts := Options{}
	_, err := flags.Parse(&opts)
	if err != nil {
		if flags.WroteHelp(err) {
			return
		}
		log.Fatal(fmt.Errorf("could not parse command line args: %w", err))
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal(fmt.Errorf("could not load configuration: %w", err))
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.JobDir != "" {
		cfg.Storage.JobDir = opts.JobDir
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal(fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err))
	}
	log.SetLevel(level)

	execLog, err := rpalog.New(cfg.Storage.LogDir)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create execution log: %w", err))
	}

	decryptor := crypto.NewDecryptor()
	browser := runner.NewBrowser(cfg.Storage.ReportDir, cfg.Browser.NavigationTimeout)
	notifier := mailer.New()
	skd := scheduler.New(decryptor, execLog)
	pipeline := executor.New(decryptor, browser, notifier, execLog)

	reg, err := registry.New(cfg.Storage.JobDir, skd, pipeline, execLog)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create job registry: %w", err))
	}
	reg.LoadAll()

	server, err := http.NewAgentServer(reg, execLog, cfg.Server.Addr)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create management server: %w", err))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		log.Infof("Management API listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Error(fmt.Errorf("listen and serve error: %w", err))
		}
	}()

	<-sigs
	log.Info("Shutting down")
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer timeoutCancel()
	if err = server.Shutdown(timeoutCtx); err != nil {
		log.Error(fmt.Errorf("failed to shutdown server: %w", err))
	}
	reg.Close()
}
