package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mozlog "github.com/mozilla-services/go-mozlogrus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/conveyor-ci/conveyor/internal"
	"github.com/conveyor-ci/conveyor/master"
	"github.com/conveyor-ci/conveyor/plan"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file; flags override its values")
	planPath := pflag.StringP("plan", "p", "", "plan file enumerating the tests to dispatch (overrides the config file)")
	port := pflag.Uint16("port", 0, "TCP port to listen on (overrides the config file)")
	expectedWorkers := pflag.Int("expected-workers", 0, "workers that must validate before dispatch starts (overrides the config file)")
	showVersion := pflag.Bool("version", false, "print the release version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("conveyor-master " + internal.Version)
		return
	}

	logger := log.New()
	if env := os.Getenv("ENV"); env == "production" {
		// add mozlog formatter
		logger.Formatter = &mozlog.MozLogFormatter{
			LoggerName: "conveyor-master",
		}
	}

	var config *master.Config
	var err error
	if *configPath != "" {
		config, err = master.LoadConfig(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("cannot load config")
		}
	} else {
		config = master.DefaultConfig()
	}
	if *planPath != "" {
		config.PlanPath = *planPath
	}
	if *port != 0 {
		config.Port = *port
	}
	if *expectedWorkers != 0 {
		config.ExpectedWorkers = *expectedWorkers
	}
	config.Logger = logger

	if config.PlanPath == "" {
		logger.Fatal("no plan file: pass --plan or set planPath in the config file")
	}
	p, err := plan.ParseFile(config.PlanPath)
	if err != nil {
		logger.WithError(err).Fatal("cannot load plan")
	}

	m, err := master.New(config, p)
	if err != nil {
		logger.WithError(err).Fatal("cannot create master")
	}

	if config.AMQPURL != "" {
		publisher, err := master.NewAMQPPublisher(config.AMQPURL)
		if err != nil {
			logger.WithError(err).Fatal("cannot connect to AMQP broker")
		}
		defer func() {
			_ = publisher.Close()
		}()
		m.UsePublisher(publisher)
		logger.Info("event publishing enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal asks workers to wind down; a second one stops serving.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.WithField("signal", sig).Warn("stop requested, workers will be told to terminate (signal again to shut down now)")
		_ = m.Stop()
		sig = <-sigs
		logger.WithField("signal", sig).Warn("shutting down")
		cancel()
	}()

	if err := m.Serve(ctx); err != nil {
		logger.WithError(err).Fatal("dispatch service failed")
	}
}
