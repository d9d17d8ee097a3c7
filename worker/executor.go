package worker

import (
	"bytes"
	"context"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/taskcluster/shell"

	"github.com/conveyor-ci/conveyor/plan"
)

// An Executor runs a single test from the plan and reports what happened.
// A non-nil error means the run itself broke (interruption, executor bug)
// and the worker should stop; a test that merely fails is reported through
// the returned Result with a failure status and a nil error.
type Executor interface {
	Execute(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
	return f(ctx, rc, test)
}

// DefaultOutputLimit caps how much combined test output is kept in a result
// when the config does not say otherwise.
const DefaultOutputLimit = 256 * 1024

// ExecExecutor runs each test as a subprocess built from a command template.
// The placeholders {file}, {function}, {variation} and {index} in each
// template element are replaced with the test's descriptor fields before the
// process is started.
type ExecExecutor struct {
	// Command is the argv template. It must have at least one element.
	Command []string

	// Dir is the working directory for the spawned process. Empty means the
	// worker's own working directory.
	Dir string

	// OutputLimit caps the combined stdout/stderr bytes captured into the
	// result. Zero means DefaultOutputLimit.
	OutputLimit int
}

func (e *ExecExecutor) Execute(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
	argv := make([]string, len(e.Command))
	for i, arg := range e.Command {
		argv[i] = substitutePlaceholders(arg, test, rc.CurrentTestIndex)
	}
	log.Printf("Worker %v: running command: %v", rc.ClientID, shell.Escape(argv...))

	limit := e.OutputLimit
	if limit == 0 {
		limit = DefaultOutputLimit
	}
	out := &boundedBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.Dir
	cmd.Stdout = out
	cmd.Stderr = out

	started := time.Now().UTC()
	err := cmd.Run()
	if ctx.Err() != nil {
		// The process was killed because the run was interrupted. No result
		// is reported for a test that was cut short.
		return nil, ctx.Err()
	}

	result := &plan.Result{
		Test:                 test,
		TestIndex:            rc.CurrentTestIndex,
		Started:              started,
		DurationMilliseconds: time.Since(started).Milliseconds(),
		Output:               out.String(),
	}
	switch typedErr := err.(type) {
	case nil:
		result.Status = plan.ResultSuccess
	case *exec.ExitError:
		result.Status = plan.ResultFailure
		result.ExitCode = typedErr.ExitCode()
	default:
		// The process could not be started at all. Still a reportable
		// outcome: the master records it and the run moves on.
		result.Status = plan.ResultError
		result.ExitCode = -1
		result.Error = err.Error()
	}
	return result, nil
}

func substitutePlaceholders(arg string, test plan.Descriptor, index int) string {
	replacer := strings.NewReplacer(
		"{file}", test.FilePath,
		"{function}", test.FunctionName,
		"{variation}", test.VariationID,
		"{index}", strconv.Itoa(index),
	)
	return replacer.Replace(arg)
}

// boundedBuffer keeps at most limit bytes and silently discards the rest,
// so a chatty test cannot balloon the result payload.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
