package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	docopt "github.com/docopt/docopt-go"
	"github.com/mcuadros/go-defaults"

	"github.com/conveyor-ci/conveyor/internal"
	"github.com/conveyor-ci/conveyor/plan"
	"github.com/conveyor-ci/conveyor/worker"
)

var (
	config     *worker.Config
	configFile *worker.File

	version  = internal.Version
	revision = "" // this is set during build with `-ldflags "-X main.revision=$(git rev-parse HEAD)"`
)

func init() {
	InitialiseLogger()
}

func main() {
	versionName := "conveyor-worker " + version
	if revision != "" {
		versionName += " [ revision: " + revision + " ]"
	}
	arguments, err := docopt.ParseArgs(usage(versionName), nil, versionName)
	if err != nil {
		log.Println("Error parsing command line arguments!")
		panic(err)
	}

	switch {
	case arguments["show-plan-schema"]:
		fmt.Println(plan.Schema)
	case arguments["--short-version"]:
		fmt.Println(version)
	case arguments["run"]:
		configFileAbs, err := filepath.Abs(arguments["--config"].(string))
		exitOnError(CANT_LOAD_CONFIG, err, "Cannot determine absolute path location for conveyor-worker config file '%v'", arguments["--config"])

		configFile = &worker.File{
			Path: configFileAbs,
		}
		err = loadConfig(configFile)
		exitOnError(CANT_LOAD_CONFIG, err, "Error loading configuration")

		if overlayPath, ok := arguments["--overlay"].(string); ok {
			overlayAbs, err := filepath.Abs(overlayPath)
			exitOnError(CANT_LOAD_CONFIG, err, "Cannot determine absolute path location for conveyor-worker overlay file '%v'", overlayPath)
			overlayFile := &worker.File{
				Path: overlayAbs,
			}
			err = overlayFile.UpdateConfig(config)
			exitOnError(CANT_LOAD_CONFIG, err, "Error applying configuration overlay")
		}

		// Config known to be loaded successfully at this point...

		exitCode := RunWorker()
		log.Printf("Exiting worker with exit code %v", exitCode)
		os.Exit(int(exitCode))
	}
}

func loadConfig(configFile *worker.File) error {
	config = new(worker.Config)
	defaults.SetDefaults(config)
	return configFile.UpdateConfig(config)
}

// HandleCrash reports a crash in worker logs and reports the crash to
// sentry if a DSN is configured. The argument r is the object returned by
// the recover call, thrown by the panic call that caused the worker crash.
func HandleCrash(r interface{}) {
	log.Print(string(debug.Stack()))
	log.Print(" *********** PANIC occurred! *********** ")
	log.Printf("%v", r)
	ReportCrashToSentry(r)
}

func RunWorker() (exitCode ExitCode) {
	defer func() {
		if r := recover(); r != nil {
			HandleCrash(r)
			exitCode = INTERNAL_ERROR
		}
	}()

	err := config.Validate()
	if err != nil {
		log.Printf("Invalid config: %v", err)
		return INVALID_CONFIG
	}

	// This *DOESN'T* output secret fields, so is SAFE
	log.Printf("Config: %v", config)

	if err := config.Preflight(); err != nil {
		log.Printf("Preflight check failed: %v", err)
		return PREFLIGHT_FAILED
	}

	p, err := plan.ParseFile(config.PlanPath)
	if err != nil {
		log.Printf("Cannot load plan: %v", err)
		return CANT_LOAD_CONFIG
	}
	log.Printf("Loaded plan %q with %v tests", p.Name, len(p.Tests))

	if err := config.Dispatch().Ping(); err != nil {
		log.Printf("Master at %v is not answering: %v", config.BaseURL(), err)
		return MASTER_UNREACHABLE
	}

	executor := &worker.ExecExecutor{
		Command:     config.Command,
		Dir:         config.WorkingDirectory,
		OutputLimit: int(config.OutputLimitBytes),
	}
	w, err := worker.New(config, p.Tests, executor, worker.NewWarningBroadcaster())
	if err != nil {
		log.Printf("Cannot create worker: %v", err)
		return INTERNAL_ERROR
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigInterrupt := make(chan os.Signal, 1)
	signal.Notify(sigInterrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigInterrupt)
	go func() {
		sig := <-sigInterrupt
		log.Printf("Received signal %v, interrupting run", sig)
		cancel()
	}()

	err = w.Run(runCtx)
	var mismatch *worker.CollectionMismatchError
	var fault *worker.ProtocolFault
	switch {
	case err == nil:
		return TESTS_COMPLETE
	case errors.As(err, &mismatch):
		log.Printf("%v", err)
		return COLLECTION_MISMATCH
	case errors.As(err, &fault):
		log.Printf("%v", err)
		return PROTOCOL_FAILURE
	case errors.Is(err, worker.ErrInterrupted):
		log.Printf("%v", err)
		return RUN_INTERRUPTED
	default:
		log.Printf("Run failed: %v", err)
		return INTERNAL_ERROR
	}
}

func exitOnError(exitCode ExitCode, err error, logMessage string, args ...interface{}) {
	if err == nil {
		return
	}
	log.Printf(logMessage, args...)
	log.Printf("Root cause: %v", err)
	os.Exit(int(exitCode))
}
