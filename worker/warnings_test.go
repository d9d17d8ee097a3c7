package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/plan"
	"github.com/conveyor-ci/conveyor/worker/cv"
)

func TestWarningBroadcaster(t *testing.T) {
	t.Run("delivers to all subscribers", func(t *testing.T) {
		b := NewWarningBroadcaster()
		var first, second []string
		b.Subscribe(func(w *plan.Warning) { first = append(first, w.Message) })
		b.Subscribe(func(w *plan.Warning) { second = append(second, w.Message) })
		b.Raise(&plan.Warning{Message: "deprecated call"})
		require.Equal(t, []string{"deprecated call"}, first)
		require.Equal(t, []string{"deprecated call"}, second)
	})

	t.Run("removed subscriptions see nothing further", func(t *testing.T) {
		b := NewWarningBroadcaster()
		var seen []string
		remove := b.Subscribe(func(w *plan.Warning) { seen = append(seen, w.Message) })
		b.Raise(&plan.Warning{Message: "before"})
		remove()
		b.Raise(&plan.Warning{Message: "after"})
		require.Equal(t, []string{"before"}, seen)
	})

	t.Run("removing twice is harmless", func(t *testing.T) {
		b := NewWarningBroadcaster()
		remove := b.Subscribe(func(w *plan.Warning) {})
		remove()
		remove()
		b.Raise(&plan.Warning{Message: "still fine"})
	})

	t.Run("raising with no subscribers is a no-op", func(t *testing.T) {
		b := NewWarningBroadcaster()
		b.Raise(&plan.Warning{Message: "into the void"})
	})
}

func TestWarningsForwardedDuringRun(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(0))
	warnings := NewWarningBroadcaster()
	executor := ExecutorFunc(func(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
		warnings.Raise(&plan.Warning{
			Message:  "assertion helper is deprecated",
			FilePath: "tests/test_auth.py",
			Lineno:   42,
			Category: "DeprecationWarning",
		})
		return &plan.Result{Test: test, TestIndex: rc.CurrentTestIndex, Status: plan.ResultSuccess}, nil
	})
	w := newTestWorker(t, fake, executor, warnings)

	err := w.Run(context.Background())
	require.NoError(t, err)

	blobs := fake.Warnings()
	require.Len(t, blobs, 1)
	warning, err := plan.UnmarshalWarning(blobs[0])
	require.NoError(t, err)
	require.Equal(t, "assertion helper is deprecated", warning.Message)
	require.Equal(t, "tests/test_auth.py", warning.FilePath)
	require.Equal(t, 42, warning.Lineno)
}

func TestUnserializableWarningIsDropped(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(0))
	warnings := NewWarningBroadcaster()
	executor := ExecutorFunc(func(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
		warnings.Raise(&plan.Warning{
			Message: "carrying something unserializable",
			Details: map[string]interface{}{"ch": make(chan int)},
		})
		return &plan.Result{Test: test, TestIndex: rc.CurrentTestIndex, Status: plan.ResultSuccess}, nil
	})
	w := newTestWorker(t, fake, executor, warnings)

	// The warning is dropped locally and the run carries on regardless.
	err := w.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, fake.Warnings())
	require.Len(t, fake.Results(), 1)
	require.True(t, w.RunContext().Completed())
}

func TestWarningDeliveryFailureDoesNotStopRun(t *testing.T) {
	fake := cv.NewFakeDispatch()
	fake.ScriptClaims(dispatchTest(0))
	fake.FailWith("report-warning", errors.New("master too busy"))
	warnings := NewWarningBroadcaster()
	executor := ExecutorFunc(func(ctx context.Context, rc *RunContext, test plan.Descriptor) (*plan.Result, error) {
		warnings.Raise(&plan.Warning{Message: "flaky network ahead"})
		return &plan.Result{Test: test, TestIndex: rc.CurrentTestIndex, Status: plan.ResultSuccess}, nil
	})
	w := newTestWorker(t, fake, executor, warnings)

	err := w.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, fake.Results(), 1)
	require.True(t, w.RunContext().Completed())
}

func TestNoWarningsForwardedAfterRun(t *testing.T) {
	fake := cv.NewFakeDispatch()
	warnings := NewWarningBroadcaster()
	w := newTestWorker(t, fake, passingExecutor(), warnings)

	err := w.Run(context.Background())
	require.NoError(t, err)

	warnings.Raise(&plan.Warning{Message: "too late"})
	require.Equal(t, 0, fake.CallCount("report-warning"))
}
