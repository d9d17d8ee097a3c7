package main

type ExitCode int

// These constants represent all possible exit codes from the conveyor-worker process.
const (
	TESTS_COMPLETE      ExitCode = 0
	CANT_LOAD_CONFIG    ExitCode = 64
	COLLECTION_MISMATCH ExitCode = 65
	PROTOCOL_FAILURE    ExitCode = 66
	RUN_INTERRUPTED     ExitCode = 67
	PREFLIGHT_FAILED    ExitCode = 68
	INTERNAL_ERROR      ExitCode = 69
	MASTER_UNREACHABLE  ExitCode = 70
	INVALID_CONFIG      ExitCode = 73
)

func usage(versionName string) string {
	return versionName + `

conveyor-worker runs tests handed out by a conveyor master. It connects to
the master, proves its locally collected test sequence matches the master's
plan, then claims one test at a time, runs it and reports the result, until
the master says the run is over. A heartbeat is sent for the whole session
so the master can tell a slow test apart from a dead worker.

  Usage:
    conveyor-worker run [--config CONFIG-FILE] [--overlay OVERLAY-FILE]
    conveyor-worker show-plan-schema
    conveyor-worker --help
    conveyor-worker --version
    conveyor-worker --short-version

  Targets:
    run                     Connects to the configured master and works the
                            session to completion.
    show-plan-schema        Outputs the json schema that plan files are
                            validated against.

  Options:
    --config CONFIG-FILE    Json configuration file to use. See the
                            configuration section below for the properties
                            it may contain.
                            [default: conveyor-worker.config]
    --overlay OVERLAY-FILE  Additional json configuration file merged over
                            the main configuration, for settings that vary
                            per host or per run.
    --help                  Display this help text.
    --version               The release version of conveyor-worker.
    --short-version         The release version number only.

  Exit Codes:
    0      Session ended normally with all dispatched tests resolved.
    64     Could not load the configuration or plan file.
    65     This worker's collected test sequence does not match the
           master's plan.
    66     The master reported a protocol error; this worker is out of
           sync with the session.
    67     The run was interrupted by a signal.
    68     Preflight checks failed (e.g. not enough available memory).
    69     Internal error.
    70     The master could not be reached.
    73     Configuration loaded but is invalid.

  Configuring conveyor-worker:

    The configuration file is a json dictionary of name/value pairs.

        ** REQUIRED ** properties
        =========================

          clientId                          A name to uniquely identify this worker
                                            to the master.
          command                           The command to run for each dispatched
                                            test, as a list of strings. Occurrences
                                            of {file}, {function}, {variation} and
                                            {index} in the arguments are replaced
                                            per test.
          planPath                          The plan file enumerating the test
                                            collection, in order. Must be the same
                                            plan the master serves.

        ** OPTIONAL ** properties
        =========================

          accessToken                       Access token for the run. When the
                                            master requires authentication, every
                                            request is signed with it.
          heartbeatIntervalMilliseconds     Interval between keep-alive beats.
                                            [default: 1000]
          masterHost                        Host the master listens on.
                                            [default: localhost]
          masterPort                        Port the master listens on.
                                            [default: 8010]
          masterUrl                         Full root URL of the master. Overrides
                                            masterHost/masterPort when set.
          minAvailableMemoryBytes           Minimum available memory for preflight
                                            to pass. [default: 524288000]
          outputLimitBytes                  Cap on captured test command output
                                            per test. [default: 262144]
          sentryDsn                         DSN to report worker crashes to.
          waitBackoffMilliseconds           Pause before re-claiming after the
                                            master answered waiting-for-clients.
                                            [default: 50]
          workingDirectory                  Directory to run test commands in.
`
}
